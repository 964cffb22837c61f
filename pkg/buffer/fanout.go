package buffer

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrIteratorDone is returned when iteration is complete.
var ErrIteratorDone = errors.New("iterator done")

// Fanout is a demand-driven broadcast buffer: one producer callback, any
// number of independent read cursors (taps) observing the same ordered
// sequence.
//
// Production is lazy. The producer callback is invoked only when a tap (or
// Drain) needs an element past the current frontier, and only one invocation
// is in flight at a time. The window of retained elements is bounded: the
// frontier never runs more than the buffer size ahead of the slowest open
// tap, so a tap that stops pulling eventually stalls production. When no taps
// are open, nothing is retained and the window never blocks.
//
// The producer ends the sequence by returning a non-nil error alongside its
// final batch. Taps drain everything buffered and then return that error
// (ErrIteratorDone if the producer returned io.EOF). CloseWithError closes
// immediately instead: pending and future reads fail without draining.
type Fanout[T any] struct {
	cond *sync.Cond

	mu       sync.Mutex
	produce  func() ([]T, error)
	log      []T
	base     int64 // absolute position of log[0]
	frontier int64 // next absolute position to be produced
	size     int64

	// taps holds the open cursors. Closed taps are removed eagerly so the
	// retention window never waits on an abandoned cursor.
	taps []*Tap[T]

	producing  bool
	closeWrite bool
	endErr     error // terminal error from produce; valid when closeWrite
	closeErr   error // immediate-close error; wins over endErr
}

// NewFanout creates a Fanout with the given window size and producer
// callback. The callback returns the next batch of elements; a non-nil error
// marks the batch as final. Size must be at least 1.
func NewFanout[T any](size int, produce func() ([]T, error)) *Fanout[T] {
	if size < 1 {
		size = 1
	}
	f := &Fanout[T]{
		produce: produce,
		size:    int64(size),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Tap registers a new read cursor positioned at the earliest retained
// element. Taps registered before any element is consumed observe the full
// sequence; a tap registered after the window has advanced observes from the
// current retention floor.
func (f *Fanout[T]) Tap() *Tap[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos := f.frontier - f.size
	if pos < f.base {
		pos = f.base
	}
	t := &Tap[T]{f: f, pos: pos}
	f.taps = append(f.taps, t)
	return t
}

// Drain drives production to termination without consuming elements. It
// respects the same window and single-flight rules as taps, so open taps
// still gate how far production runs ahead. Returns the producer's terminal
// error, or the close error if the fanout was closed.
func (f *Fanout[T]) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.closeErr != nil {
			return f.closeErr
		}
		if f.closeWrite {
			return f.endErr
		}
		if f.producing || f.windowFull() {
			f.cond.Wait()
			continue
		}
		f.produceLocked()
	}
}

// CloseWithError closes the fanout immediately. All pending and future reads,
// including buffered but unconsumed elements, fail with err. If err is nil,
// io.ErrClosedPipe is used. Returns nil if already closed.
func (f *Fanout[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return nil
	}
	f.closeErr = err
	f.closeWrite = true
	f.cond.Broadcast()
	return nil
}

// Err returns the error the fanout was closed with, if any.
func (f *Fanout[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeErr
}

// windowFull reports whether producing one more batch would run the frontier
// past the slowest open tap. Callers must hold mu.
func (f *Fanout[T]) windowFull() bool {
	min, ok := f.minPos()
	if !ok {
		return false
	}
	return f.frontier-min >= f.size
}

func (f *Fanout[T]) minPos() (int64, bool) {
	if len(f.taps) == 0 {
		return 0, false
	}
	min := f.taps[0].pos
	for _, t := range f.taps[1:] {
		if t.pos < min {
			min = t.pos
		}
	}
	return min, true
}

// produceLocked runs one producer invocation. Callers must hold mu with
// producing unset; the lock is released around the callback.
func (f *Fanout[T]) produceLocked() {
	f.producing = true
	f.mu.Unlock()
	batch, err := f.produce()
	f.mu.Lock()
	f.producing = false
	if f.closeErr != nil {
		// Closed while producing; the batch is dropped.
		f.cond.Broadcast()
		return
	}
	f.log = append(f.log, batch...)
	f.frontier += int64(len(batch))
	if err != nil {
		f.closeWrite = true
		if err != io.EOF {
			f.endErr = err
		}
	}
	f.evict()
	f.cond.Broadcast()
}

// evict drops log entries below the slowest open tap. Callers must hold mu.
func (f *Fanout[T]) evict() {
	min, ok := f.minPos()
	if !ok {
		min = f.frontier
	}
	if n := min - f.base; n > 0 {
		f.log = f.log[n:]
		f.base = min
	}
}

// Tap is an independent read cursor over a Fanout sequence.
type Tap[T any] struct {
	f      *Fanout[T]
	pos    int64
	closed bool
}

// Next returns the next element in the sequence, blocking until one is
// available. When the tap is at the frontier it drives production itself
// (subject to the window and single-flight rules). After the final batch is
// drained Next returns the producer's terminal error, or ErrIteratorDone if
// the producer ended with io.EOF. If the fanout was closed, Next returns the
// close error immediately.
func (t *Tap[T]) Next() (v T, err error) {
	f := t.f
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if t.closed {
			err = fmt.Errorf("buffer: read from closed tap: %w", io.ErrClosedPipe)
			return
		}
		if f.closeErr != nil {
			err = f.closeErr
			return
		}
		if t.pos < f.frontier {
			v = f.log[t.pos-f.base]
			t.pos++
			f.evict()
			f.cond.Broadcast()
			return v, nil
		}
		if f.closeWrite {
			if f.endErr != nil {
				err = f.endErr
			} else {
				err = ErrIteratorDone
			}
			return
		}
		if f.producing || f.windowFull() {
			f.cond.Wait()
			continue
		}
		f.produceLocked()
	}
}

// Close detaches the tap from the fanout. Other taps and the producer are
// unaffected except that the retention window no longer waits on this cursor.
// Returns nil if already closed.
func (t *Tap[T]) Close() error {
	f := t.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for i, o := range f.taps {
		if o == t {
			f.taps = append(f.taps[:i], f.taps[i+1:]...)
			break
		}
	}
	f.evict()
	f.cond.Broadcast()
	return nil
}
