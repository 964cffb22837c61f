package genflow

import "context"

// Params are the sampling knobs forwarded to the model. Zero values are
// omitted from provider requests.
type Params struct {
	MaxTokens        int     `json:"max_tokens,omitzero"`
	Temperature      float32 `json:"temperature,omitzero"`
	TopP             float32 `json:"top_p,omitzero"`
	TopK             float32 `json:"top_k,omitzero"`
	FrequencyPenalty float32 `json:"frequency_penalty,omitzero"`
	PresencePenalty  float32 `json:"presence_penalty,omitzero"`
}

// Request is one generation request. Prompt is shorthand for a single user
// message; when Messages is set it takes precedence and Prompt is ignored.
type Request struct {
	System   string    `json:"system,omitzero"`
	Prompt   string    `json:"prompt,omitzero"`
	Messages []Message `json:"messages,omitzero"`
	Tools    []*Tool   `json:"tools,omitzero"`
	Params   *Params   `json:"params,omitzero"`
}

// messages returns the conversation in message form, materializing Prompt
// into a user message when needed.
func (r Request) messages() []Message {
	if len(r.Messages) > 0 {
		return r.Messages
	}
	if r.Prompt != "" {
		return []Message{{Role: RoleUser, Content: r.Prompt}}
	}
	return nil
}

// Model produces one streamed completion per invocation.
type Model interface {
	GenerateStream(ctx context.Context, req Request) (ModelStream, error)
}

// ModelStream is a single model invocation, consumed by repeated pulls.
//
// Next returns data events (text-delta, tool-call, tool-call-delta,
// tool-result), then exactly one finish event, then io.EOF. Any other
// error reports a backend failure; no events follow it. Next must not be
// called from multiple goroutines at once.
//
// Close releases the invocation early. Pulls blocked in Next return
// after Close.
type ModelStream interface {
	Next() (*Event, error)
	Close() error
}
