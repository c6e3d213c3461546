package tui

import "github.com/charmbracelet/lipgloss"

var (
	primary    = lipgloss.Color("#7C3AED")
	secondary  = lipgloss.Color("#10B981")
	warning    = lipgloss.Color("#F59E0B")
	errorColor = lipgloss.Color("#EF4444")
	mutedColor = lipgloss.Color("#6B7280")

	title = lipgloss.NewStyle().Bold(true).Foreground(primary).MarginBottom(1)
	muted = lipgloss.NewStyle().Foreground(mutedColor)
	box   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primary).Padding(1, 2)
	help  = lipgloss.NewStyle().Foreground(mutedColor).MarginTop(1)

	statusStyle = map[string]lipgloss.Style{
		"ok":           lipgloss.NewStyle().Foreground(secondary).Bold(true),
		"watch":        lipgloss.NewStyle().Foreground(warning).Bold(true),
		"rate_limited": lipgloss.NewStyle().Foreground(warning).Bold(true),
		"suspended":    lipgloss.NewStyle().Foreground(errorColor).Bold(true),
	}
)

func renderStatus(status string) string {
	style, ok := statusStyle[status]
	if !ok {
		return status
	}
	return style.Render(status)
}
