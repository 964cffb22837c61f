package genflow

import (
	"github.com/goccy/go-yaml"
)

// Usage is the token accounting for one step or for a whole generation.
// Combining two Usage values with Add is associative and commutative.
type Usage struct {
	// Number of tokens in the prompt, including any continuation context
	// re-posed on later steps.
	PromptTokens int64 `json:"prompt_tokens,omitzero"`

	// Number of tokens generated.
	CompletionTokens int64 `json:"completion_tokens,omitzero"`

	// Total tokens. Zero means unreported; it normalizes to
	// PromptTokens+CompletionTokens when combined.
	TotalTokens int64 `json:"total_tokens,omitzero"`
}

func (u Usage) norm() Usage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// Add combines two usage records field-wise, normalizing unreported totals
// on both sides first.
func (u Usage) Add(v Usage) Usage {
	u, v = u.norm(), v.norm()
	return Usage{
		PromptTokens:     u.PromptTokens + v.PromptTokens,
		CompletionTokens: u.CompletionTokens + v.CompletionTokens,
		TotalTokens:      u.TotalTokens + v.TotalTokens,
	}
}

func (u Usage) String() string {
	b, _ := yaml.Marshal(map[string]map[string]any{
		"Usage": {
			"Prompt":     u.PromptTokens,
			"Completion": u.CompletionTokens,
			"Total":      u.norm().TotalTokens,
		},
	})
	return string(b)
}
