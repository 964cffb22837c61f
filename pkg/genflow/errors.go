package genflow

import (
	"errors"
	"fmt"
)

// ErrDone reports that a generation finished cleanly. Stream views return
// an error wrapping ErrDone after their last event.
var ErrDone = errors.New("genflow: done")

// ErrAbandoned reports that a generation was canceled because every open
// stream view was closed before it finished.
var ErrAbandoned = errors.New("genflow: generation abandoned")

// ErrMalformed reports that a model stream violated the stream contract,
// for example by producing events after its finish event or by ending
// without one.
var ErrMalformed = errors.New("genflow: malformed model output")

// Outcome is the terminal disposition of a generation. Stream views return
// it from Next after the stream is exhausted; deferred accessors return it
// when the generation did not finish cleanly.
//
// Use errors.Is(err, ErrDone) to tell a clean finish apart from a failure.
type Outcome struct {
	reason FinishReason
	usage  Usage
	err    error
}

func outcomeDone(reason FinishReason, usage Usage) *Outcome {
	return &Outcome{reason: reason, usage: usage, err: ErrDone}
}

func outcomeFailed(usage Usage, err error) *Outcome {
	return &Outcome{reason: ReasonError, usage: usage, err: err}
}

// Reason reports why the generation stopped. For failed or canceled
// generations it is ReasonError.
func (o *Outcome) Reason() FinishReason { return o.reason }

// Usage reports the tokens consumed up to termination.
func (o *Outcome) Usage() Usage { return o.usage }

func (o *Outcome) Unwrap() error { return o.err }

func (o *Outcome) Error() string {
	if errors.Is(o.err, ErrDone) {
		return fmt.Sprintf("genflow: finished (%s)", o.reason)
	}
	return o.err.Error()
}

// BackendError wraps a transport or provider failure surfaced by a model
// stream.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("genflow: backend error: %v", e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
