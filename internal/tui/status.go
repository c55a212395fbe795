package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/meetscribe/client/internal/channel"
	"github.com/meetscribe/client/internal/theme"
)

// statusBar holds the connection and job identity shown at the bottom.
type statusBar struct {
	Conn      channel.State
	ConnKnown bool
	MeetingID string
	JobID     string
	Sources   int
	Width     int
}

func (s statusBar) View() string {
	width := s.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	switch {
	case !s.ConnKnown:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDimmed).Render("○ Channel idle")
	case s.Conn == channel.StateOpen:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	case s.Conn == channel.StateConnecting || s.Conn == channel.StateReconnecting:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("◌ " + capitalize(s.Conn.String()) + "...")
	default:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ " + capitalize(s.Conn.String()))
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + fmt.Sprintf("meeting %s", s.MeetingID)
	if s.Sources > 1 {
		content += sep + fmt.Sprintf("%d sources", s.Sources)
	}
	if s.JobID != "" {
		content += sep + theme.StyleDimmed.Render("job "+shortID(s.JobID))
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
