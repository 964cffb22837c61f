package genflow

// Role identifies who a message is attributed to.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleTool   Role = "tool"
)

// Message is one turn of a conversation. Exactly one of Content, ToolCalls
// or ToolResults is normally set, but a model turn may carry text and tool
// calls together.
type Message struct {
	Role        Role          `json:"role"`
	Content     string        `json:"content,omitzero"`
	ToolCalls   []*ToolCall   `json:"tool_calls,omitzero"`
	ToolResults []*ToolResult `json:"tool_results,omitzero"`
}

// ToolCall is a model's request to invoke a tool. Arguments is the raw
// JSON argument text exactly as the model produced it.
type ToolCall struct {
	ID        string `json:"id,omitzero"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitzero"`
}

// Args unmarshals the call arguments into v, repairing truncated or
// slightly malformed JSON the way models tend to emit it.
func (c *ToolCall) Args(v any) error {
	return unmarshalJSON([]byte(c.Arguments), v)
}

// ToolResult carries the outcome of a tool call back toward the model.
// The controller forwards these verbatim; it never executes tools itself.
type ToolResult struct {
	ID     string `json:"id,omitzero"`
	Name   string `json:"name,omitzero"`
	Result string `json:"result"`
}

// Response identifies the provider response a step came from.
type Response struct {
	ID    string `json:"id,omitzero"`
	Model string `json:"model,omitzero"`
}
