// Package tui provides Bubble Tea views for the logline-agent CLI.
//
// TUI is opt-in (--tui) and read-only. It shows the same records as the
// non-interactive output; there is no TUI-only data.
package tui

import "github.com/charmbracelet/lipgloss"

// Palette. Session health maps to green (clean stop), amber (cut short
// while draining) and red (connection lost).
var (
	primaryColor   = lipgloss.Color("#0EA5E9")
	healthyColor   = lipgloss.Color("#22C55E")
	degradedColor  = lipgloss.Color("#EAB308")
	lostColor      = lipgloss.Color("#F43F5E")
	mutedColor     = lipgloss.Color("#64748B")
	highlightColor = lipgloss.Color("#A78BFA")
	textColor      = lipgloss.Color("#F8FAFC")
)

var (
	// TitleStyle renders view titles.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).MarginBottom(1)

	// LabelStyle renders detail-pane field names.
	LabelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(14)

	// ValueStyle renders detail-pane field values.
	ValueStyle = lipgloss.NewStyle().Foreground(textColor)

	// ErrorStyle renders a session's closing error.
	ErrorStyle = lipgloss.NewStyle().Foreground(lostColor)

	// BoxStyle frames the detail pane.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	// HelpStyle renders the key hint line.
	HelpStyle = lipgloss.NewStyle().Foreground(mutedColor).MarginTop(1)

	// StatBoxStyle frames one totals box. The border color is set per box.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			Width(18).
			Align(lipgloss.Center)

	// StatLabelStyle and StatValueStyle fill a totals box.
	StatLabelStyle = lipgloss.NewStyle().Foreground(mutedColor).Align(lipgloss.Center)
	StatValueStyle = lipgloss.NewStyle().Bold(true).Align(lipgloss.Center)
)

// EndStateStyle colors a session end state. A session that ended in
// backoff lost its connection; one that stopped was shut down on purpose.
func EndStateStyle(state string) lipgloss.Style {
	s := lipgloss.NewStyle()
	switch state {
	case "stopped", "disconnected":
		return s.Foreground(healthyColor)
	case "draining":
		return s.Foreground(degradedColor)
	case "backoff":
		return s.Foreground(lostColor)
	default:
		return s.Foreground(textColor)
	}
}
