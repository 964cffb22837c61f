package genflow

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEventCodec_FinishEvent(t *testing.T) {
	var buf bytes.Buffer
	in := &Event{
		Type:   EventFinish,
		Reason: ReasonStop,
		Usage:  &Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
	}
	if err := EncodeEvent(&buf, in); err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	line := buf.String()
	if !strings.HasSuffix(line, "\n") || strings.Count(line, "\n") != 1 {
		t.Errorf("encoded event is not a single line: %q", line)
	}
	out, err := DecodeEvent([]byte(strings.TrimSuffix(line, "\n")))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if out.Type != EventFinish || out.Reason != ReasonStop {
		t.Errorf("decoded = %+v, want finish/stop", out)
	}
	if out.Usage == nil || *out.Usage != *in.Usage {
		t.Errorf("decoded usage = %+v, want %+v", out.Usage, in.Usage)
	}
}

func TestEventCodec_ErrorEventCarriesMessage(t *testing.T) {
	var buf bytes.Buffer
	in := &Event{Type: EventError, Err: errors.New("upstream timed out")}
	if err := EncodeEvent(&buf, in); err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	if !strings.Contains(buf.String(), "upstream timed out") {
		t.Errorf("encoded error event lacks message: %s", buf.String())
	}
	out, err := DecodeEvent(bytes.TrimSpace(buf.Bytes()))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if out.Err == nil || out.Err.Error() != "upstream timed out" {
		t.Errorf("decoded error = %v, want %q", out.Err, "upstream timed out")
	}
}

func TestEventCodec_ToolCall(t *testing.T) {
	var buf bytes.Buffer
	in := &Event{Type: EventToolCall, ToolCall: &ToolCall{
		ID:        "call_1",
		Name:      "lookup",
		Arguments: `{"q":"go"}`,
	}}
	if err := EncodeEvent(&buf, in); err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	out, err := DecodeEvent(bytes.TrimSpace(buf.Bytes()))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if out.ToolCall == nil || out.ToolCall.Name != "lookup" || out.ToolCall.Arguments != `{"q":"go"}` {
		t.Errorf("decoded tool call = %+v, want %+v", out.ToolCall, in.ToolCall)
	}
}

func TestDecodeEvent_Invalid(t *testing.T) {
	if _, err := DecodeEvent([]byte("{not json")); err == nil {
		t.Error("DecodeEvent accepted malformed JSON")
	}
	if _, err := DecodeEvent([]byte(`{"text":"no type"}`)); err == nil {
		t.Error("DecodeEvent accepted an event without a type")
	}
}
