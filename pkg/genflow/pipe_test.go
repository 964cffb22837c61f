package genflow

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPipeEvents_WritesOneJSONLinePerEvent(t *testing.T) {
	m := &StubModel{Steps: []StubStep{
		{Events: []*Event{textEv("Hello "), textEv("world"), finishEv(ReasonStop, 5, 2)}},
	}}
	r, err := Generate(context.Background(), m, Request{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var buf bytes.Buffer
	if err := r.PipeEvents(context.Background(), &buf); err != nil {
		t.Fatalf("PipeEvents: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	var kinds []string
	var text strings.Builder
	for _, line := range lines {
		ev, err := DecodeEvent([]byte(line))
		if err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		kinds = append(kinds, string(ev.Type))
		if ev.Type == EventTextDelta {
			text.WriteString(ev.Text)
		}
	}
	want := "text-delta,text-delta,step-finish,finish"
	if got := strings.Join(kinds, ","); got != want {
		t.Errorf("piped events = %s, want %s", got, want)
	}
	if text.String() != "Hello world" {
		t.Errorf("piped text = %q, want %q", text.String(), "Hello world")
	}
}

func TestPipeEvents_EncodesErrorBeforeReturning(t *testing.T) {
	boom := errors.New("stream torn down")
	m := &StubModel{Steps: []StubStep{
		{Events: []*Event{textEv("par")}, Err: boom},
	}}
	r, err := Generate(context.Background(), m, Request{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var buf bytes.Buffer
	perr := r.PipeEvents(context.Background(), &buf)
	if !errors.Is(perr, boom) {
		t.Fatalf("PipeEvents = %v, want %v", perr, boom)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	last, err := DecodeEvent([]byte(lines[len(lines)-1]))
	if err != nil {
		t.Fatalf("decode last line: %v", err)
	}
	if last.Type != EventError {
		t.Errorf("last piped event = %s, want error", last.Type)
	}
	if last.Err == nil || !strings.Contains(last.Err.Error(), "stream torn down") {
		t.Errorf("piped error = %v, want to carry %q", last.Err, "stream torn down")
	}
}

func TestPipeText_WritesRawChunksAndFlushes(t *testing.T) {
	m := &StubModel{Steps: []StubStep{
		{Events: []*Event{textEv("Hello "), textEv("world"), finishEv(ReasonStop, 5, 2)}},
	}}
	r, err := Generate(context.Background(), m, Request{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	rec := httptest.NewRecorder()
	if err := r.PipeText(context.Background(), rec); err != nil {
		t.Fatalf("PipeText: %v", err)
	}
	if got := rec.Body.String(); got != "Hello world" {
		t.Errorf("piped text = %q, want %q", got, "Hello world")
	}
	if !rec.Flushed {
		t.Error("response was never flushed")
	}
}

func TestPipeEvents_CanceledContext(t *testing.T) {
	m := &StubModel{Steps: []StubStep{
		{Events: []*Event{textEv("a"), finishEv(ReasonStop, 1, 1)}},
	}}
	r, err := Generate(context.Background(), m, Request{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if err := r.PipeEvents(ctx, &buf); !errors.Is(err, context.Canceled) {
		t.Errorf("PipeEvents = %v, want context.Canceled", err)
	}
}
