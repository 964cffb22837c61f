package genflow

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

// produceNext advances the generation until at least one event is ready or
// the generation terminates. The returned Outcome is non-nil exactly when
// the batch is the last one.
//
// While a continued step may still follow, the latest text fragment is held
// back by one event so a trailing partial word can be trimmed at the step
// boundary before consumers see it.
func (s *session) produceNext() ([]*Event, *Outcome) {
	var batch []*Event
	for len(batch) == 0 {
		if err := s.ctx.Err(); err != nil {
			s.cancel(err)
		}
		if out := s.cancelOutcome(); out != nil {
			return nil, out
		}
		cur := s.stream()
		if cur == nil {
			ms, err := s.model.GenerateStream(s.ctx, s.stepRequest())
			if err != nil {
				if out := s.cancelOutcome(); out != nil {
					return nil, out
				}
				return s.terminalFail(batch, backendErr(err))
			}
			if !s.setStream(ms) {
				ms.Close()
				return nil, s.cancelOutcome()
			}
			cur = ms
		}
		ev, err := cur.Next()
		if err != nil {
			if out := s.cancelOutcome(); out != nil {
				return nil, out
			}
			if err == io.EOF {
				return s.terminalFail(batch, fmt.Errorf("%w: stream ended without a finish event", ErrMalformed))
			}
			return s.terminalFail(batch, backendErr(err))
		}
		switch ev.Type {
		case EventTextDelta:
			batch = append(batch, s.onText(ev)...)
		case EventToolCall, EventToolCallDelta, EventToolResult:
			batch = append(batch, s.releaseHeld()...)
			batch = append(batch, ev)
		case EventFinish:
			more, out := s.onStepFinish(cur, ev)
			batch = append(batch, more...)
			if out != nil {
				return batch, out
			}
		case EventError:
			err := ev.Err
			if err == nil {
				err = errors.New("model reported an error")
			}
			return s.terminalFail(batch, backendErr(err))
		default:
			return s.terminalFail(batch, fmt.Errorf("%w: unexpected %s event", ErrMalformed, ev.Type))
		}
	}
	return batch, nil
}

func (s *session) stream() ModelStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// onStepFinish closes out one model invocation. It decides whether the
// generation continues with another step or terminates here, and emits the
// step-finish bookkeeping either way.
func (s *session) onStepFinish(cur ModelStream, fin *Event) ([]*Event, *Outcome) {
	// Nothing may follow the finish event; probe for end of stream.
	if ev, err := cur.Next(); err == nil {
		return s.terminalFail(nil, fmt.Errorf("%w: %s event after finish", ErrMalformed, ev.Type))
	} else if err != io.EOF {
		if out := s.cancelOutcome(); out != nil {
			return nil, out
		}
	}
	s.closeStream()

	var stepUsage Usage
	if fin.Usage != nil {
		stepUsage = *fin.Usage
	}
	s.agg.addUsage(stepUsage)
	reason := fin.Reason
	if reason == "" {
		reason = ReasonOther
	}
	if fin.Response != nil {
		s.lastResp = fin.Response
	}

	var batch []*Event
	if s.opts.ContinueSteps && reason == ReasonLength && s.step < s.opts.MaxSteps {
		if s.held != nil {
			keep, cut := s.opts.SplitFragment(s.held.Text)
			s.held = nil
			if keep != "" {
				batch = append(batch, &Event{Type: EventTextDelta, Text: keep})
			}
			if cut != "" {
				s.carry = cut
			}
		}
		batch = append(batch, &Event{
			Type:      EventStepFinish,
			Step:      s.step,
			Reason:    reason,
			Usage:     &stepUsage,
			Continued: true,
			Response:  fin.Response,
		})
		s.step++
		return batch, nil
	}

	batch = append(batch, s.releaseHeld()...)
	if s.carry != "" {
		// The continuation never re-produced the trimmed fragment; put it
		// back so no model output is lost.
		batch = append(batch, &Event{Type: EventTextDelta, Text: s.carry})
		s.carry = ""
	}
	batch = append(batch, &Event{
		Type:     EventStepFinish,
		Step:     s.step,
		Reason:   reason,
		Usage:    &stepUsage,
		Response: fin.Response,
	})
	total := s.agg.usageTotal()
	batch = append(batch, &Event{Type: EventFinish, Reason: reason, Usage: &total, Response: s.lastResp})
	return batch, outcomeDone(reason, total)
}

// onText routes one text fragment, holding it back while a later step could
// still trim it. A fresh fragment supersedes any carried-over trim.
func (s *session) onText(ev *Event) []*Event {
	s.carry = ""
	if !s.lagArmed() {
		return []*Event{ev}
	}
	prev := s.held
	s.held = ev
	if prev == nil {
		return nil
	}
	return []*Event{prev}
}

func (s *session) releaseHeld() []*Event {
	if s.held == nil {
		return nil
	}
	ev := s.held
	s.held = nil
	return []*Event{ev}
}

func (s *session) lagArmed() bool {
	return s.opts.ContinueSteps && s.step < s.opts.MaxSteps
}

// stepRequest builds the request for the current step. Continued steps
// re-pose the conversation with the output so far appended as a model turn.
func (s *session) stepRequest() Request {
	req := s.base
	if s.step > 1 {
		msgs := make([]Message, 0, len(s.base.Messages)+1)
		msgs = append(msgs, s.base.Messages...)
		msgs = append(msgs, Message{Role: RoleModel, Content: s.agg.textSoFar()})
		req.Messages = msgs
	}
	return req
}

// terminalFail ends the generation with an error event. Any held fragment
// is flushed first; there is no further step that could trim it.
func (s *session) terminalFail(batch []*Event, err error) ([]*Event, *Outcome) {
	s.closeStream()
	slog.Warn("genflow: generation failed", "session", s.id, "err", err)
	batch = append(batch, s.releaseHeld()...)
	batch = append(batch, &Event{Type: EventError, Err: err})
	return batch, outcomeFailed(s.agg.usageTotal(), err)
}

func backendErr(err error) error {
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Err: err}
}

// SplitLastWord is the default SplitFragment policy. It cuts after the last
// whitespace rune, carrying a trailing partial word into the next step.
// Text without any whitespace is kept whole.
func SplitLastWord(text string) (keep, cut string) {
	i := strings.LastIndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return text, ""
	}
	_, size := utf8.DecodeRuneInString(text[i:])
	return text[:i+size], text[i+size:]
}

// SplitNone keeps every fragment whole; continued steps emit trailing
// fragments untrimmed.
func SplitNone(text string) (keep, cut string) {
	return text, ""
}
