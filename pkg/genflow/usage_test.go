package genflow

import (
	"strings"
	"testing"
)

func TestUsage_AddNormalizesTotals(t *testing.T) {
	a := Usage{PromptTokens: 5, CompletionTokens: 2}
	b := Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4}

	got := a.Add(b)
	want := Usage{PromptTokens: 8, CompletionTokens: 3, TotalTokens: 11}
	if got != want {
		t.Errorf("Add = %+v, want %+v", got, want)
	}
	if zero := (Usage{}).Add(a); zero != (Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}) {
		t.Errorf("zero.Add = %+v, want normalized total 7", zero)
	}
}

func TestUsage_AddAssociativeAndCommutative(t *testing.T) {
	a := Usage{PromptTokens: 1, CompletionTokens: 2}
	b := Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 9}
	c := Usage{PromptTokens: 5, CompletionTokens: 6}

	if l, r := a.Add(b).Add(c), a.Add(b.Add(c)); l != r {
		t.Errorf("Add not associative: %+v vs %+v", l, r)
	}
	if l, r := a.Add(b), b.Add(a); l != r {
		t.Errorf("Add not commutative: %+v vs %+v", l, r)
	}
}

func TestUsage_String(t *testing.T) {
	s := Usage{PromptTokens: 5, CompletionTokens: 2}.String()
	for _, want := range []string{"Prompt: 5", "Completion: 2", "Total: 7"} {
		if !strings.Contains(s, want) {
			t.Errorf("Usage.String() = %q, missing %q", s, want)
		}
	}
}
