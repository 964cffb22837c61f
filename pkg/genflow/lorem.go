package genflow

import (
	"context"
	"io"
	"strings"

	lorem "github.com/bozaro/golorem"
	"github.com/google/uuid"
)

var _ Model = (*LoremModel)(nil)

// LoremModel generates lorem ipsum text, one word per event. It needs no
// credentials or network, which makes it useful for trying out the pipeline
// and for load-shaping experiments.
type LoremModel struct {
	// Model is the name stamped on responses. Empty means "lorem".
	Model string

	// TruncateAt, when positive, ends every invocation at the length
	// limit after that many words, for exercising continuation.
	TruncateAt int
}

const loremDefaultWords = 80

func (m *LoremModel) GenerateStream(ctx context.Context, req Request) (ModelStream, error) {
	maxWords := loremDefaultWords
	if p := req.Params; p != nil && p.MaxTokens > 0 {
		maxWords = p.MaxTokens
	}
	reason := ReasonStop
	if m.TruncateAt > 0 && m.TruncateAt < maxWords {
		maxWords = m.TruncateAt
		reason = ReasonLength
	}
	gen := lorem.New()
	var words []string
	for len(words) < maxWords {
		words = append(words, strings.Fields(gen.Sentence(5, 15))...)
	}
	words = words[:maxWords]

	var prompt int64
	prompt += int64(len(strings.Fields(req.System)))
	for _, msg := range req.messages() {
		prompt += int64(len(strings.Fields(msg.Content)))
	}

	name := m.Model
	if name == "" {
		name = "lorem"
	}
	return &loremStream{
		ctx:    ctx,
		words:  words,
		reason: reason,
		prompt: prompt,
		resp:   &Response{ID: uuid.NewString(), Model: name},
	}, nil
}

type loremStream struct {
	ctx    context.Context
	words  []string
	pos    int
	reason FinishReason
	prompt int64
	resp   *Response
	done   bool
	closed bool
}

func (s *loremStream) Next() (*Event, error) {
	if s.closed {
		return nil, io.ErrClosedPipe
	}
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	if s.pos < len(s.words) {
		ev := &Event{Type: EventTextDelta, Text: s.words[s.pos] + " "}
		s.pos++
		return ev, nil
	}
	s.done = true
	usage := Usage{PromptTokens: s.prompt, CompletionTokens: int64(len(s.words))}
	return &Event{Type: EventFinish, Reason: s.reason, Usage: &usage, Response: s.resp}, nil
}

func (s *loremStream) Close() error {
	s.closed = true
	return nil
}
