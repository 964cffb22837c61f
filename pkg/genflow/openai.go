package genflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
)

var _ Model = (*OpenAIModel)(nil)

const (
	oaiFinishReasonStop          string = "stop"
	oaiFinishReasonToolCalls     string = "tool_calls"
	oaiFinishReasonLength        string = "length"
	oaiFinishReasonFunctionCall  string = "function_call"
	oaiFinishReasonContentFilter string = "content_filter"
)

// OpenAISchemaFormatter formats a JSON schema for OpenAI function parameters.
type OpenAISchemaFormatter func(m *jsonschema.Schema) *jsonschema.Schema

// OpenAIModel streams completions from the OpenAI chat completions API, or
// any compatible endpoint the client is pointed at.
type OpenAIModel struct {
	Client *openai.Client `json:"-"`

	Model string `json:"model"`

	// UseDeveloperRole sends the system text with the developer role,
	// which the o-series models require.
	UseDeveloperRole bool `json:"use_developer_role,omitzero"`

	ExtraFields map[string]any `json:"extra_fields,omitzero"`

	SchemaFormatter OpenAISchemaFormatter `json:"-"`
}

func (m *OpenAIModel) GenerateStream(ctx context.Context, req Request) (ModelStream, error) {
	params, err := m.chatCompletion(req)
	if err != nil {
		return nil, err
	}
	return &oaiStream{sse: m.Client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

func (m *OpenAIModel) chatCompletion(req Request) (openai.ChatCompletionNewParams, error) {
	msgs, err := m.convMessages(req)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    m.Model,
		// The terminal chunk then reports token usage.
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if p := req.Params; p != nil {
		if p.MaxTokens > 0 {
			params.MaxCompletionTokens = param.NewOpt(int64(p.MaxTokens))
		}
		if p.Temperature > 0 {
			params.Temperature = param.NewOpt(float64(p.Temperature))
		}
		if p.TopP > 0 {
			params.TopP = param.NewOpt(float64(p.TopP))
		}
		if p.FrequencyPenalty > 0 {
			params.FrequencyPenalty = param.NewOpt(float64(p.FrequencyPenalty))
		}
		if p.PresencePenalty > 0 {
			params.PresencePenalty = param.NewOpt(float64(p.PresencePenalty))
		}
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: param.NewOpt(tool.Description),
				Parameters:  m.convSchemaForFunc(tool.Schema),
			},
		})
	}
	if len(m.ExtraFields) > 0 {
		params.SetExtraFields(m.ExtraFields)
	}
	return params, nil
}

func (m *OpenAIModel) convMessages(req Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	var out []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		out = append(out, m.convSystem(req.System))
	}
	for i := range req.Messages {
		parts, err := m.convMessage(&req.Messages[i])
		if err != nil {
			return nil, err
		}
		out = append(out, parts...)
	}
	return out, nil
}

func (m *OpenAIModel) convSystem(text string) openai.ChatCompletionMessageParamUnion {
	if m.UseDeveloperRole {
		return openai.ChatCompletionMessageParamUnion{
			OfDeveloper: &openai.ChatCompletionDeveloperMessageParam{
				Content: openai.ChatCompletionDeveloperMessageParamContentUnion{
					OfString: param.NewOpt(text),
				},
			},
		}
	}
	return openai.ChatCompletionMessageParamUnion{
		OfSystem: &openai.ChatCompletionSystemMessageParam{
			Content: openai.ChatCompletionSystemMessageParamContentUnion{
				OfString: param.NewOpt(text),
			},
		},
	}
}

func (m *OpenAIModel) convMessage(msg *Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	switch msg.Role {
	default:
		return nil, fmt.Errorf("unexpected message role: %s", msg.Role)
	case RoleSystem:
		return []openai.ChatCompletionMessageParamUnion{m.convSystem(msg.Content)}, nil
	case RoleUser:
		if msg.Content == "" {
			return nil, errors.New("user message must contain text")
		}
		return []openai.ChatCompletionMessageParamUnion{{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: param.NewOpt(msg.Content),
				},
			},
		}}, nil
	case RoleModel:
		mp := &openai.ChatCompletionAssistantMessageParam{}
		if msg.Content != "" {
			mp.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: param.NewOpt(msg.Content),
			}
		}
		for _, tc := range msg.ToolCalls {
			mp.ToolCalls = append(mp.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		if msg.Content == "" && len(mp.ToolCalls) == 0 {
			return nil, errors.New("model message must contain text or tool calls")
		}
		return []openai.ChatCompletionMessageParamUnion{{OfAssistant: mp}}, nil
	case RoleTool:
		if len(msg.ToolResults) == 0 {
			return nil, errors.New("tool message must contain results")
		}
		out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msg.ToolResults))
		for _, tr := range msg.ToolResults {
			out = append(out, openai.ToolMessage(tr.Result, tr.ID))
		}
		return out, nil
	}
}

// oaiStream normalizes the SSE chunk stream to the ModelStream grammar:
// data events, one finish event, io.EOF.
type oaiStream struct {
	sse         *ssestream.Stream[openai.ChatCompletionChunk]
	queue       []*Event
	runningTool *openai.ChatCompletionChunkChoiceDeltaToolCall
	index       int64
	indexSet    bool
	reason      FinishReason // stashed while awaiting the trailing usage chunk
	resp        *Response
	done        bool
}

func (s *oaiStream) Next() (*Event, error) {
	if len(s.queue) > 0 {
		return s.pop(), nil
	}
	if s.done {
		return nil, io.EOF
	}
	for s.sse.Next() {
		s.translate(s.sse.Current())
		if len(s.queue) > 0 {
			return s.pop(), nil
		}
	}
	if err := s.sse.Err(); err != nil {
		s.done = true
		return nil, &BackendError{Err: err}
	}
	if s.reason != "" {
		// The provider never sent the usage chunk; finish without it.
		s.queue = append(s.queue, s.finishEvent(s.reason, Usage{}))
		s.reason = ""
		return s.pop(), nil
	}
	s.done = true
	return nil, io.EOF
}

func (s *oaiStream) Close() error {
	return s.sse.Close()
}

func (s *oaiStream) pop() *Event {
	ev := s.queue[0]
	s.queue = s.queue[1:]
	if ev.Type == EventFinish {
		s.done = true
		s.sse.Close()
	}
	return ev
}

func (s *oaiStream) translate(chunk openai.ChatCompletionChunk) {
	if s.resp == nil && chunk.ID != "" {
		s.resp = &Response{ID: chunk.ID, Model: chunk.Model}
	}
	if len(chunk.Choices) == 0 {
		if s.reason != "" && oaiHasUsage(chunk.Usage) {
			s.queue = append(s.queue, s.finishEvent(s.reason, oaiConvUsage(chunk.Usage)))
			s.reason = ""
		}
		return
	}
	sel := s.selectChoice(chunk)
	if sel == nil {
		return
	}
	if t := sel.Delta.Content; t != "" {
		s.queue = append(s.queue, &Event{Type: EventTextDelta, Text: t})
	}
	for _, t := range sel.Delta.ToolCalls {
		s.mergeTool(t)
	}
	if sel.Delta.Refusal != "" {
		s.commitTool()
		s.queue = append(s.queue, s.finishEvent(ReasonContentFilter, oaiConvUsage(chunk.Usage)))
		return
	}
	if fr := sel.FinishReason; fr != "" {
		s.commitTool()
		reason := oaiConvReason(fr)
		if oaiHasUsage(chunk.Usage) {
			s.queue = append(s.queue, s.finishEvent(reason, oaiConvUsage(chunk.Usage)))
		} else {
			s.reason = reason
		}
	}
}

func (s *oaiStream) selectChoice(chunk openai.ChatCompletionChunk) *openai.ChatCompletionChunkChoice {
	if !s.indexSet {
		s.indexSet = true
		s.index = chunk.Choices[0].Index
		return &chunk.Choices[0]
	}
	for i := range chunk.Choices {
		if chunk.Choices[i].Index == s.index {
			return &chunk.Choices[i]
		}
	}
	return nil
}

func (s *oaiStream) mergeTool(t openai.ChatCompletionChunkChoiceDeltaToolCall) {
	switch {
	case s.runningTool == nil:
		if t.ID == "" && t.Function.Name == "" && t.Function.Arguments == "" {
			return
		}
		tc := t
		s.runningTool = &tc
	case t.ID == "" || t.ID == s.runningTool.ID:
		s.runningTool.Function.Name += t.Function.Name
		s.runningTool.Function.Arguments += t.Function.Arguments
	default:
		s.commitTool()
		tc := t
		s.runningTool = &tc
	}
	s.queue = append(s.queue, &Event{Type: EventToolCallDelta, ToolCall: s.runningToolCall()})
}

func (s *oaiStream) commitTool() {
	if s.runningTool == nil {
		return
	}
	s.queue = append(s.queue, &Event{Type: EventToolCall, ToolCall: s.runningToolCall()})
	s.runningTool = nil
}

func (s *oaiStream) runningToolCall() *ToolCall {
	return &ToolCall{
		ID:        s.runningTool.ID,
		Name:      s.runningTool.Function.Name,
		Arguments: s.runningTool.Function.Arguments,
	}
}

func (s *oaiStream) finishEvent(reason FinishReason, usage Usage) *Event {
	return &Event{Type: EventFinish, Reason: reason, Usage: &usage, Response: s.resp}
}

func oaiConvReason(fr string) FinishReason {
	switch fr {
	case oaiFinishReasonStop:
		return ReasonStop
	case oaiFinishReasonLength:
		return ReasonLength
	case oaiFinishReasonToolCalls, oaiFinishReasonFunctionCall:
		return ReasonToolCalls
	case oaiFinishReasonContentFilter:
		return ReasonContentFilter
	default:
		return ReasonOther
	}
}

func oaiHasUsage(u openai.CompletionUsage) bool {
	return u.PromptTokens != 0 || u.CompletionTokens != 0 || u.TotalTokens != 0
}

func oaiConvUsage(u openai.CompletionUsage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func (m *OpenAIModel) convSchemaForFunc(s *jsonschema.Schema) openai.FunctionParameters {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(m.patchSchema(s))
	if err != nil {
		return nil
	}
	var out openai.FunctionParameters
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

func (m *OpenAIModel) patchSchema(s *jsonschema.Schema) *jsonschema.Schema {
	if s == nil {
		return nil
	}
	c := s.CloneSchemas()
	if m.SchemaFormatter != nil {
		return m.SchemaFormatter(c)
	}
	return FormatOpenAISchema(c)
}

// FormatOpenAISchema formats a schema for OpenAI strict function calling.
//
// OpenAI strict mode requires:
//   - All objects must have additionalProperties: false
//   - All properties must be listed in required
//
// See https://platform.openai.com/docs/guides/structured-outputs
func FormatOpenAISchema(m *jsonschema.Schema) *jsonschema.Schema {
	if m == nil {
		return nil
	}

	// The jsonschema library may set Types: ["null", "array"] with Type: ""
	// for nullable fields; consolidate into a single representation.
	if m.Type != "" && len(m.Types) > 0 {
		m.Types = append(m.Types, m.Type)
		m.Type = ""
	}

	typ := m.Type
	if typ == "" && len(m.Types) > 0 {
		for _, t := range m.Types {
			if t != "null" && t != "" {
				typ = t
				break
			}
		}
	}

	switch typ {
	case "array":
		m.Items = FormatOpenAISchema(m.Items)
	case "object":
		m.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}} // false schema

		requires := make(map[string]struct{})
		for _, v := range m.Required {
			requires[v] = struct{}{}
		}
		for k, v := range m.Properties {
			if _, ok := requires[k]; !ok {
				requires[k] = struct{}{}
				if !slices.Contains(v.Types, "null") {
					v.Types = append(v.Types, "null")
				}
			}
			m.Properties[k] = FormatOpenAISchema(v)
		}
		m.Required = slices.Collect(maps.Keys(requires))
	}
	return m
}
