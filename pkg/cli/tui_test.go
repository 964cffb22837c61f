package cli

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestSummary_Render(t *testing.T) {
	s := Summary{
		Styles: NewStyles(DefaultTheme),
		Title:  "generation",
		Rows: []SummaryRow{
			{Label: "model", Value: "lorem"},
			{Label: "finish", Value: "stop"},
			{Label: "tokens", Value: "24 + 7 = 31"},
		},
	}

	out := s.Render()
	lines := strings.Split(out, "\n")
	if len(lines) != 5 {
		t.Fatalf("len(lines) = %d, want 5", len(lines))
	}

	want := lipgloss.Width(lines[0])
	for i, line := range lines {
		if w := lipgloss.Width(line); w != want {
			t.Errorf("line %d width = %d, want %d", i, w, want)
		}
	}

	for _, substr := range []string{"generation", "model", "lorem", "24 + 7 = 31"} {
		if !strings.Contains(out, substr) {
			t.Errorf("Render() output missing %q", substr)
		}
	}
}

func TestSummary_Render_Empty(t *testing.T) {
	s := Summary{Styles: NewStyles(DefaultTheme), Title: "run"}

	lines := strings.Split(s.Render(), "\n")
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if w0, w1 := lipgloss.Width(lines[0]), lipgloss.Width(lines[1]); w0 != w1 {
		t.Errorf("border widths differ: %d vs %d", w0, w1)
	}
}
