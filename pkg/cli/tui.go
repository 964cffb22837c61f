package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme for terminal output.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Dim     lipgloss.Color // Dimmed/help text color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Border lipgloss.Style
	Help   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border: lipgloss.NewStyle().Foreground(t.Primary),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// SummaryRow is one label/value line in a summary box.
type SummaryRow struct {
	Label string
	Value string
}

// Summary renders a boxed report, typically printed to stderr after a
// generation finishes so it never mixes with streamed stdout output.
type Summary struct {
	Styles Styles
	Title  string
	Rows   []SummaryRow
}

// Render renders the summary box to a string.
func (f Summary) Render() string {
	bc := f.Styles.Border

	labelWidth := 0
	for _, r := range f.Rows {
		labelWidth = max(labelWidth, lipgloss.Width(r.Label))
	}

	// Inner width between the side borders, including one space of
	// padding on each side.
	inner := lipgloss.Width(f.Title) + 4
	for _, r := range f.Rows {
		inner = max(inner, labelWidth+2+lipgloss.Width(r.Value)+2)
	}

	var lines []string

	// Top border with embedded title: ╭─ title ────╮
	title := f.Styles.Title.Render(f.Title)
	topPad := max(0, inner-3-lipgloss.Width(f.Title))
	lines = append(lines, bc.Render("╭─")+" "+title+" "+bc.Render(strings.Repeat("─", topPad)+"╮"))

	// Rows: │ label  value │
	for _, r := range f.Rows {
		gap := strings.Repeat(" ", labelWidth-lipgloss.Width(r.Label)+2)
		pad := strings.Repeat(" ", max(0, inner-2-labelWidth-2-lipgloss.Width(r.Value)))
		lines = append(lines, bc.Render("│")+" "+f.Styles.Label.Render(r.Label)+gap+r.Value+pad+" "+bc.Render("│"))
	}

	lines = append(lines, bc.Render("╰"+strings.Repeat("─", inner)+"╯"))

	return strings.Join(lines, "\n")
}
