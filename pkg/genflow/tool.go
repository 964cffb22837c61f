package genflow

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool declares a function the model may call. The controller only
// forwards tool declarations and surfaces tool-call events; invoking the
// tool and feeding its result back is the caller's business.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitzero"`
	Schema      *jsonschema.Schema `json:"schema,omitzero"`
}

// NewTool declares a tool whose argument schema is derived from Args.
func NewTool[Args any](name, description string) (*Tool, error) {
	schema, err := jsonschema.For[Args](nil)
	if err != nil {
		return nil, fmt.Errorf("genflow: tool %s: %w", name, err)
	}
	return &Tool{Name: name, Description: description, Schema: schema}, nil
}
