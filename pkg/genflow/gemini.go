package genflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

var _ Model = (*GeminiModel)(nil)

// GeminiModel streams completions from the Google Gemini API.
type GeminiModel struct {
	Client *genai.Client `json:"-"`

	// Model should not start with "models/"
	Model string `json:"model"`

	SafetySettings []*genai.SafetySetting `json:"-"`
}

func (m *GeminiModel) GenerateStream(ctx context.Context, req Request) (ModelStream, error) {
	cfg, contents, err := m.convRequest(req)
	if err != nil {
		return nil, err
	}
	next, stop := iter.Pull2(m.Client.Models.GenerateContentStream(ctx, m.Model, contents, cfg))
	return &geminiStream{next: next, stop: stop}, nil
}

func (m *GeminiModel) convRequest(req Request) (*genai.GenerateContentConfig, []*genai.Content, error) {
	cfg := genai.GenerateContentConfig{
		SafetySettings: m.SafetySettings,
	}
	system := req.System
	if p := req.Params; p != nil {
		cfg.MaxOutputTokens = int32(p.MaxTokens)
		if p.Temperature > 0 {
			t := p.Temperature
			cfg.Temperature = &t
		}
		if p.TopP > 0 {
			t := p.TopP
			cfg.TopP = &t
		}
		if p.TopK > 0 {
			t := p.TopK
			cfg.TopK = &t
		}
	}
	for _, tool := range req.Tools {
		cfg.Tools = append(cfg.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  geminiConvSchema(tool.Schema),
				},
			},
		})
	}

	var (
		contents []*genai.Content
		last     *genai.Content
	)
	for i := range req.Messages {
		msg := &req.Messages[i]
		if msg.Role == RoleSystem {
			// Gemini has no system role in contents.
			if system != "" {
				system += "\n"
			}
			system += msg.Content
			continue
		}
		added, err := geminiConvMessage(last, msg)
		if err != nil {
			return nil, nil, err
		}
		if added != nil {
			contents = append(contents, added)
			last = added
		}
	}
	if len(contents) == 0 {
		return nil, nil, fmt.Errorf("no contents")
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(system)},
		}
	}
	return &cfg, contents, nil
}

// geminiConvMessage converts one message, merging it into last when the
// roles match. Gemini requires contents with alternating roles.
func geminiConvMessage(last *genai.Content, msg *Message) (*genai.Content, error) {
	var (
		role  string
		parts []*genai.Part
	)
	switch msg.Role {
	default:
		return nil, fmt.Errorf("unexpected message role: %s", msg.Role)
	case RoleUser:
		role = "user"
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
	case RoleModel:
		role = "model"
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
				args = map[string]any{"text": tc.Arguments}
			}
			parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
		}
	case RoleTool:
		role = "user"
		for _, tr := range msg.ToolResults {
			var result map[string]any
			if err := json.Unmarshal([]byte(tr.Result), &result); err != nil {
				result = map[string]any{"text": tr.Result}
			}
			parts = append(parts, genai.NewPartFromFunctionResponse(tr.Name, result))
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty %s message", msg.Role)
	}
	if last == nil || last.Role != role {
		return &genai.Content{Role: role, Parts: parts}, nil
	}
	last.Parts = append(last.Parts, parts...)
	return nil, nil
}

// geminiStream normalizes the response iterator to the ModelStream grammar.
type geminiStream struct {
	next  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	queue []*Event
	index int32
	set   bool
	resp  *Response
	done  bool
}

func (s *geminiStream) Next() (*Event, error) {
	if len(s.queue) > 0 {
		return s.pop(), nil
	}
	if s.done {
		return nil, io.EOF
	}
	for {
		chunk, err, ok := s.next()
		if !ok {
			s.done = true
			return nil, io.EOF
		}
		if err != nil {
			s.done = true
			s.stop()
			if e, isAPI := err.(*apierror.APIError); isAPI {
				err = e.Unwrap()
			}
			return nil, &BackendError{Err: err}
		}
		s.translate(chunk)
		if len(s.queue) > 0 {
			return s.pop(), nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.done = true
	s.stop()
	return nil
}

func (s *geminiStream) pop() *Event {
	ev := s.queue[0]
	s.queue = s.queue[1:]
	if ev.Type == EventFinish {
		s.done = true
		s.stop()
	}
	return ev
}

func (s *geminiStream) translate(chunk *genai.GenerateContentResponse) {
	if s.resp == nil && chunk.ResponseID != "" {
		s.resp = &Response{ID: chunk.ResponseID, Model: chunk.ModelVersion}
	}
	if len(chunk.Candidates) == 0 {
		return
	}
	sel := s.selectCandidate(chunk)
	if sel == nil || sel.Content == nil {
		return
	}
	for _, p := range sel.Content.Parts {
		switch {
		case p.Thought:
			// Reasoning traces are not part of the output text.
		case p.Text != "":
			s.queue = append(s.queue, &Event{Type: EventTextDelta, Text: p.Text})
		case p.FunctionCall != nil:
			b, _ := json.Marshal(p.FunctionCall.Args)
			s.queue = append(s.queue, &Event{Type: EventToolCall, ToolCall: &ToolCall{
				ID:        p.FunctionCall.ID,
				Name:      p.FunctionCall.Name,
				Arguments: string(b),
			}})
		case p.FunctionResponse != nil:
			b, _ := json.Marshal(p.FunctionResponse.Response)
			s.queue = append(s.queue, &Event{Type: EventToolResult, ToolResult: &ToolResult{
				ID:     p.FunctionResponse.ID,
				Name:   p.FunctionResponse.Name,
				Result: string(b),
			}})
		}
	}
	switch sel.FinishReason {
	case genai.FinishReasonUnspecified, "":
	case genai.FinishReasonStop:
		s.finish(ReasonStop, chunk)
	case genai.FinishReasonMaxTokens:
		s.finish(ReasonLength, chunk)
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent, genai.FinishReasonSPII:
		s.finish(ReasonContentFilter, chunk)
	default:
		s.finish(ReasonOther, chunk)
	}
}

func (s *geminiStream) selectCandidate(chunk *genai.GenerateContentResponse) *genai.Candidate {
	if !s.set {
		s.set = true
		s.index = chunk.Candidates[0].Index
		return chunk.Candidates[0]
	}
	for _, c := range chunk.Candidates {
		if c.Index == s.index {
			return c
		}
	}
	return nil
}

func (s *geminiStream) finish(reason FinishReason, chunk *genai.GenerateContentResponse) {
	usage := geminiConvUsage(chunk.UsageMetadata)
	s.queue = append(s.queue, &Event{Type: EventFinish, Reason: reason, Usage: &usage, Response: s.resp})
}

func geminiConvSchema(schema *jsonschema.Schema) *genai.Schema {
	if schema == nil {
		return nil
	}

	enums := make([]string, 0, len(schema.Enum))
	for _, v := range schema.Enum {
		enums = append(enums, fmt.Sprintf("%v", v))
	}

	gs := genai.Schema{
		Format:      schema.Format,
		Description: schema.Description,
		Enum:        enums,
		Items:       geminiConvSchema(schema.Items),
		Required:    schema.Required,
	}
	if n := len(schema.Properties); n > 0 {
		gs.Properties = make(map[string]*genai.Schema, n)
		for k, prop := range schema.Properties {
			gs.Properties[k] = geminiConvSchema(prop)
		}
	}
	switch schema.Type {
	case "object":
		gs.Type = genai.TypeObject
	case "array":
		gs.Type = genai.TypeArray
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	}
	return &gs
}

func geminiConvUsage(usage *genai.GenerateContentResponseUsageMetadata) Usage {
	if usage == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     int64(usage.PromptTokenCount),
		CompletionTokens: int64(usage.CandidatesTokenCount),
		TotalTokens:      int64(usage.TotalTokenCount),
	}
}
