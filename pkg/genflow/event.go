package genflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// EventType discriminates the events of a generation stream.
type EventType string

const (
	// EventTextDelta carries an incremental fragment of model text.
	EventTextDelta EventType = "text-delta"

	// EventToolCall carries one complete tool invocation request.
	EventToolCall EventType = "tool-call"

	// EventToolCallDelta carries a partial tool invocation while its
	// arguments are still streaming.
	EventToolCallDelta EventType = "tool-call-delta"

	// EventToolResult carries the outcome of a tool call.
	EventToolResult EventType = "tool-result"

	// EventStepFinish marks the end of one model invocation.
	EventStepFinish EventType = "step-finish"

	// EventFinish marks the clean end of the whole generation. It is
	// always the last event and carries cumulative usage.
	EventFinish EventType = "finish"

	// EventError marks an abnormal end. No event follows it.
	EventError EventType = "error"
)

// FinishReason states why a step or a generation stopped.
type FinishReason string

const (
	ReasonStop          FinishReason = "stop"
	ReasonLength        FinishReason = "length"
	ReasonToolCalls     FinishReason = "tool-calls"
	ReasonContentFilter FinishReason = "content-filter"
	ReasonError         FinishReason = "error"
	ReasonOther         FinishReason = "other"
)

// Event is one element of a generation stream. Type selects which of the
// remaining fields are meaningful.
type Event struct {
	Type EventType `json:"type"`

	// Text is set on text-delta events.
	Text string `json:"text,omitzero"`

	// ToolCall is set on tool-call events, and on tool-call-delta events
	// with whatever portion of the call is known so far.
	ToolCall *ToolCall `json:"tool_call,omitzero"`

	// ToolResult is set on tool-result events.
	ToolResult *ToolResult `json:"tool_result,omitzero"`

	// Step is the 1-based index of the finished step on step-finish events.
	Step int `json:"step,omitzero"`

	// Continued reports that another step follows this one.
	Continued bool `json:"continued,omitzero"`

	// Reason is set on step-finish and finish events.
	Reason FinishReason `json:"reason,omitzero"`

	// Usage is per-step on step-finish events and cumulative on finish
	// events.
	Usage *Usage `json:"usage,omitzero"`

	// Response identifies the provider response, when known.
	Response *Response `json:"response,omitzero"`

	// Err is set on error events.
	Err error `json:"-"`
}

type eventWire struct {
	Type       EventType    `json:"type"`
	Text       string       `json:"text,omitzero"`
	ToolCall   *ToolCall    `json:"tool_call,omitzero"`
	ToolResult *ToolResult  `json:"tool_result,omitzero"`
	Step       int          `json:"step,omitzero"`
	Continued  bool         `json:"continued,omitzero"`
	Reason     FinishReason `json:"reason,omitzero"`
	Usage      *Usage       `json:"usage,omitzero"`
	Response   *Response    `json:"response,omitzero"`
	Error      string       `json:"error,omitzero"`
}

func (e *Event) MarshalJSON() ([]byte, error) {
	w := eventWire{
		Type:       e.Type,
		Text:       e.Text,
		ToolCall:   e.ToolCall,
		ToolResult: e.ToolResult,
		Step:       e.Step,
		Continued:  e.Continued,
		Reason:     e.Reason,
		Usage:      e.Usage,
		Response:   e.Response,
	}
	if e.Err != nil {
		w.Error = e.Err.Error()
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		Type:       w.Type,
		Text:       w.Text,
		ToolCall:   w.ToolCall,
		ToolResult: w.ToolResult,
		Step:       w.Step,
		Continued:  w.Continued,
		Reason:     w.Reason,
		Usage:      w.Usage,
		Response:   w.Response,
	}
	if w.Error != "" {
		e.Err = errors.New(w.Error)
	}
	return nil
}

// EncodeEvent writes ev to w as one JSON line.
func EncodeEvent(w io.Writer, ev *Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// DecodeEvent parses one JSON line produced by EncodeEvent.
func DecodeEvent(line []byte) (*Event, error) {
	ev := new(Event)
	if err := json.Unmarshal(line, ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("decode event: missing type")
	}
	return ev, nil
}
