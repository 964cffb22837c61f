package genflow

import (
	"context"
	"strings"
	"sync"
)

// StepResult is the aggregate of one model invocation.
type StepResult struct {
	// Events are the events emitted for this step, ending with its
	// step-finish event.
	Events []*Event

	// Text is the step's emitted text, after any continuation trimming.
	Text string

	Reason    FinishReason
	Usage     Usage
	Continued bool
	Response  *Response
}

// Final is the aggregate of a cleanly finished generation.
type Final struct {
	// Text is the concatenation of every emitted text-delta.
	Text string

	// Reason is the terminal step's finish reason.
	Reason FinishReason

	// Usage is cumulative across all steps.
	Usage Usage

	// Messages is the generation rendered as conversation turns, suitable
	// for appending to a request's Messages.
	Messages []Message

	// Steps holds one entry per model invocation, in order.
	Steps []StepResult

	// Response identifies the last provider response, when known.
	Response *Response
}

// aggregator folds the event stream into deferred results. Writes arrive
// from the production path one event at a time; readers block on done and
// then see a sealed value.
type aggregator struct {
	done chan struct{}

	mu          sync.Mutex
	text        strings.Builder
	stepText    strings.Builder
	stepEvents  []*Event
	toolCalls   []*ToolCall
	toolResults []*ToolResult
	usage       Usage
	steps       []StepResult
	sealed      bool
	err         error
	final       *Final
}

func newAggregator() *aggregator {
	return &aggregator{done: make(chan struct{})}
}

func (a *aggregator) observe(ev *Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch ev.Type {
	case EventTextDelta:
		a.text.WriteString(ev.Text)
		a.stepText.WriteString(ev.Text)
		a.stepEvents = append(a.stepEvents, ev)
	case EventToolCall:
		a.toolCalls = append(a.toolCalls, ev.ToolCall)
		a.stepEvents = append(a.stepEvents, ev)
	case EventToolResult:
		a.toolResults = append(a.toolResults, ev.ToolResult)
		a.stepEvents = append(a.stepEvents, ev)
	case EventToolCallDelta, EventError:
		a.stepEvents = append(a.stepEvents, ev)
	case EventStepFinish:
		a.stepEvents = append(a.stepEvents, ev)
		step := StepResult{
			Events:    a.stepEvents,
			Text:      a.stepText.String(),
			Reason:    ev.Reason,
			Continued: ev.Continued,
			Response:  ev.Response,
		}
		if ev.Usage != nil {
			step.Usage = *ev.Usage
		}
		a.steps = append(a.steps, step)
		a.stepEvents = nil
		a.stepText.Reset()
	case EventFinish:
		// Final is assembled at resolve time.
	}
}

func (a *aggregator) addUsage(u Usage) {
	a.mu.Lock()
	a.usage = a.usage.Add(u)
	a.mu.Unlock()
}

func (a *aggregator) usageTotal() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

func (a *aggregator) textSoFar() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

// resolve seals the aggregator with a clean finish. It reports false if a
// failure sealed it first.
func (a *aggregator) resolve(reason FinishReason, usage Usage, resp *Response) (*Final, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return a.final, false
	}
	a.sealed = true
	final := &Final{
		Text:     a.text.String(),
		Reason:   reason,
		Usage:    usage,
		Steps:    a.steps,
		Response: resp,
	}
	if final.Text != "" || len(a.toolCalls) > 0 {
		final.Messages = append(final.Messages, Message{
			Role:      RoleModel,
			Content:   final.Text,
			ToolCalls: a.toolCalls,
		})
	}
	for _, tr := range a.toolResults {
		final.Messages = append(final.Messages, Message{
			Role:        RoleTool,
			ToolResults: []*ToolResult{tr},
		})
	}
	a.final = final
	close(a.done)
	return final, true
}

// fail seals the aggregator with a terminal error. It reports false if the
// aggregator was already sealed.
func (a *aggregator) fail(err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return false
	}
	a.sealed = true
	a.err = err
	close(a.done)
	return true
}

// await blocks until the generation terminates, then returns the final
// aggregate or the terminal error.
func (a *aggregator) await(ctx context.Context) (*Final, error) {
	select {
	case <-a.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return a.final, nil
}
