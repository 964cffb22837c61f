package genflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/haivivi/genflow/pkg/buffer"
)

// session owns one generation call from the first model invocation to the
// terminal event.
//
// # Execution Flow
//
// Production is demand-driven. Nothing is pulled from the model until a
// stream view pulls, or a deferred accessor starts the drain. Each demand
// cycle runs produce, which advances the step controller until at least one
// event is ready, feeds the chunk callback and the aggregator, and hands the
// batch to the fanout for the stream views. The fanout serializes produce,
// so controller state needs no lock of its own.
//
// # Cancellation
//
// Closing the last open view, closing the Result, or the call context
// ending cancels the session: the in-flight model stream is closed, the
// deferred results fail with the cancellation cause, and every view returns
// the same terminal outcome. Cancellation after the terminal event is a
// no-op.
type session struct {
	id    string
	model Model
	base  Request
	opts  Options
	ctx   context.Context

	fan *buffer.Fanout[*Event]
	agg *aggregator

	mu        sync.Mutex
	cur       ModelStream // in-flight invocation, nil between steps
	canceled  bool
	cancelOut *Outcome
	tapsOpen  int
	drainOnce sync.Once

	// Controller state, touched only on the production path.
	step     int
	held     *Event
	carry    string
	lastResp *Response
}

func newSession(ctx context.Context, m Model, req Request, opts Options) *session {
	s := &session{
		id:    uuid.NewString(),
		model: m,
		base: Request{
			System:   req.System,
			Messages: req.messages(),
			Tools:    req.Tools,
			Params:   req.Params,
		},
		opts: opts,
		ctx:  ctx,
		agg:  newAggregator(),
		step: 1,
	}
	s.fan = buffer.NewFanout(opts.BufferSize, s.produce)
	go func() {
		select {
		case <-ctx.Done():
			s.cancel(ctx.Err())
		case <-s.agg.done:
		}
	}()
	return s
}

// produce is the fanout's producer callback. It runs the controller for one
// demand cycle and dispatches the resulting events in order: chunk callback
// first, then the aggregator, then (by returning) the stream views.
func (s *session) produce() ([]*Event, error) {
	batch, term := s.produceNext()
	for _, ev := range batch {
		if s.opts.OnChunk != nil {
			s.opts.OnChunk(ev)
		}
		s.agg.observe(ev)
	}
	if term == nil {
		return batch, nil
	}
	if errors.Is(term, ErrDone) {
		if final, ok := s.agg.resolve(term.Reason(), term.Usage(), s.lastResp); ok && s.opts.OnFinish != nil {
			s.opts.OnFinish(final)
		}
	} else {
		s.agg.fail(term)
	}
	return batch, term
}

func (s *session) cancel(cause error) {
	if cause == nil {
		cause = ErrAbandoned
	}
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return
	}
	s.canceled = true
	out := outcomeFailed(s.agg.usageTotal(), cause)
	s.cancelOut = out
	cur := s.cur
	s.mu.Unlock()
	if !s.agg.fail(out) {
		// The generation already terminated; leave the views draining.
		return
	}
	if cur != nil {
		cur.Close()
	}
	s.fan.CloseWithError(out)
	slog.Debug("genflow: generation canceled", "session", s.id, "cause", cause)
}

func (s *session) cancelOutcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelOut
}

func (s *session) setStream(ms ModelStream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return false
	}
	s.cur = ms
	return true
}

func (s *session) closeStream() {
	s.mu.Lock()
	cur := s.cur
	s.cur = nil
	s.mu.Unlock()
	if cur != nil {
		cur.Close()
	}
}

// ensureDrain starts the goroutine that drives production on behalf of the
// deferred results. Open views still gate how far it runs ahead.
func (s *session) ensureDrain() {
	s.drainOnce.Do(func() {
		go s.fan.Drain()
	})
}

func (s *session) newTap() *buffer.Tap[*Event] {
	s.mu.Lock()
	s.tapsOpen++
	s.mu.Unlock()
	return s.fan.Tap()
}

func (s *session) tapClosed() {
	s.mu.Lock()
	s.tapsOpen--
	last := s.tapsOpen == 0
	s.mu.Unlock()
	if last {
		s.cancel(ErrAbandoned)
	}
}

// EventStream is a pull view over the full event sequence. Every open view
// observes the same events in the same order. Not safe for concurrent use.
type EventStream struct {
	s      *session
	tap    *buffer.Tap[*Event]
	closed bool
}

// Next returns the next event, blocking until one is produced. After the
// last event it returns the terminal *Outcome; errors.Is(err, ErrDone)
// distinguishes a clean finish.
func (es *EventStream) Next() (*Event, error) {
	return es.tap.Next()
}

// Close releases the view. Closing the last open view of an unfinished
// generation abandons it.
func (es *EventStream) Close() error {
	if es.closed {
		return nil
	}
	es.closed = true
	es.tap.Close()
	es.s.tapClosed()
	return nil
}

// TextStream is a pull view over the text fragments of a generation, in
// order. Not safe for concurrent use.
type TextStream struct {
	s      *session
	tap    *buffer.Tap[*Event]
	closed bool
}

// Next returns the next text fragment. After the last event it returns the
// terminal *Outcome; errors.Is(err, ErrDone) distinguishes a clean finish.
func (ts *TextStream) Next() (string, error) {
	for {
		ev, err := ts.tap.Next()
		if err != nil {
			return "", err
		}
		if ev.Type == EventTextDelta {
			return ev.Text, nil
		}
	}
}

// Close releases the view. Closing the last open view of an unfinished
// generation abandons it.
func (ts *TextStream) Close() error {
	if ts.closed {
		return nil
	}
	ts.closed = true
	ts.tap.Close()
	ts.s.tapClosed()
	return nil
}
