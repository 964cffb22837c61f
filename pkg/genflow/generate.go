package genflow

import (
	"context"
	"errors"
	"fmt"
)

const defaultBufferSize = 32

// Options configure one generation call.
type Options struct {
	// MaxSteps caps the number of model invocations for one call.
	// Zero means 1.
	MaxSteps int

	// ContinueSteps re-invokes the model when a step stops at the length
	// limit, extending the output until it finishes for another reason or
	// MaxSteps is reached.
	ContinueSteps bool

	// OnChunk is invoked synchronously for every event, before stream
	// consumers observe it. Production is suspended while it runs, so it
	// must return promptly and must not consume this generation's own
	// views or deferred results.
	OnChunk func(*Event)

	// OnFinish is invoked exactly once, after the terminal event of a
	// cleanly finished generation, with the aggregated result. It is not
	// invoked when the generation fails or is canceled.
	OnFinish func(*Final)

	// SplitFragment decides, when a step is continued, how much of its
	// trailing text fragment is emitted (keep) and how much is withheld
	// (cut) for the continuation to regenerate. Nil means SplitLastWord.
	SplitFragment func(text string) (keep, cut string)

	// BufferSize bounds how many events production may run ahead of the
	// slowest open view. Zero means 32.
	BufferSize int
}

func (o *Options) withDefaults() (Options, error) {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.MaxSteps < 0 {
		return opts, fmt.Errorf("genflow: negative MaxSteps %d", opts.MaxSteps)
	}
	if opts.BufferSize < 0 {
		return opts, fmt.Errorf("genflow: negative BufferSize %d", opts.BufferSize)
	}
	if opts.MaxSteps == 0 {
		opts.MaxSteps = 1
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.SplitFragment == nil {
		opts.SplitFragment = SplitLastWord
	}
	return opts, nil
}

// Generate starts a generation call against m and returns a handle on it.
// No model invocation happens until something demands events: a stream
// view pulling, a pipe, or a deferred accessor.
//
// Canceling ctx cancels the generation.
func Generate(ctx context.Context, m Model, req Request, opts *Options) (*Result, error) {
	if m == nil {
		return nil, errors.New("genflow: nil model")
	}
	if len(req.messages()) == 0 {
		return nil, errors.New("genflow: empty request")
	}
	o, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Result{s: newSession(ctx, m, req, o)}, nil
}

// Result is a handle on one generation call. Stream views consume events
// as they are produced; the deferred accessors block until the generation
// terminates and then always return the same values.
type Result struct {
	s *session
}

// ID returns the call's session identifier, usable for log correlation.
func (r *Result) ID() string { return r.s.id }

// Events returns a new independent view over the full event sequence.
// Views opened before consumption starts observe every event. Each view
// must be closed when done with.
func (r *Result) Events() *EventStream {
	return &EventStream{s: r.s, tap: r.s.newTap()}
}

// TextStream returns a new independent view over the text fragments.
// Each view must be closed when done with.
func (r *Result) TextStream() *TextStream {
	return &TextStream{s: r.s, tap: r.s.newTap()}
}

// Wait blocks until the generation terminates and returns the aggregated
// result. When nothing else is consuming, Wait itself drives production.
// The ctx only bounds the wait; it does not cancel the generation.
func (r *Result) Wait(ctx context.Context) (*Final, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.s.ensureDrain()
	return r.s.agg.await(ctx)
}

// Text blocks until termination and returns the concatenated text.
func (r *Result) Text(ctx context.Context) (string, error) {
	final, err := r.Wait(ctx)
	if err != nil {
		return "", err
	}
	return final.Text, nil
}

// Usage blocks until termination and returns the cumulative token usage.
func (r *Result) Usage(ctx context.Context) (Usage, error) {
	final, err := r.Wait(ctx)
	if err != nil {
		return Usage{}, err
	}
	return final.Usage, nil
}

// FinishReason blocks until termination and returns the terminal step's
// finish reason. Intermediate length stops of continued steps are not
// surfaced here.
func (r *Result) FinishReason(ctx context.Context) (FinishReason, error) {
	final, err := r.Wait(ctx)
	if err != nil {
		return "", err
	}
	return final.Reason, nil
}

// Messages blocks until termination and returns the generation rendered as
// conversation turns.
func (r *Result) Messages(ctx context.Context) ([]Message, error) {
	final, err := r.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return final.Messages, nil
}

// Steps blocks until termination and returns the per-invocation results.
func (r *Result) Steps(ctx context.Context) ([]StepResult, error) {
	final, err := r.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return final.Steps, nil
}

// Close abandons the generation if it has not terminated: the model stream
// is closed, no further invocations happen, and deferred accessors return
// ErrAbandoned. Closing a terminated generation is a no-op. Close is
// idempotent and always returns nil.
func (r *Result) Close() error {
	r.s.cancel(ErrAbandoned)
	return nil
}
