package output

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used across commands. When the output
// stream is not a terminal the color profile is Ascii and every style
// renders as plain text with no escape sequences.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style

	// Address styles target addresses in listings.
	Address lipgloss.Style

	// StatusSuccess and StatusFailed carry their glyphs via SetString,
	// so callers render them with String().
	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
}

func newStyles(lr *lipgloss.Renderer) *Styles {
	return &Styles{
		Header1: lr.NewStyle().Bold(true).Underline(true),
		Header2: lr.NewStyle().Bold(true),
		Bold:    lr.NewStyle().Bold(true),
		Muted:   lr.NewStyle().Foreground(lipgloss.Color("8")),
		Success: lr.NewStyle().Foreground(lipgloss.Color("2")),
		Warning: lr.NewStyle().Foreground(lipgloss.Color("3")),
		Error:   lr.NewStyle().Foreground(lipgloss.Color("1")),
		Info:    lr.NewStyle().Foreground(lipgloss.Color("6")),

		Address: lr.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),

		StatusSuccess: lr.NewStyle().SetString("✓").Foreground(lipgloss.Color("2")),
		StatusFailed:  lr.NewStyle().SetString("✗").Foreground(lipgloss.Color("1")),
	}
}
