// Package theme provides the Lip Gloss color palette and reusable styles
// for the meetscribe TUI. It is a leaf package with no internal imports
// besides progress phases.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/meetscribe/client/internal/progress"
)

// Phase colors.
var (
	ColorIdle       = lipgloss.Color("#4b5563")
	ColorUploading  = lipgloss.Color("#3b82f6")
	ColorAwaiting   = lipgloss.Color("#7c3aed")
	ColorProcessing = lipgloss.Color("#d97706")
	ColorCompleted  = lipgloss.Color("#16a34a")
	ColorFailed     = lipgloss.Color("#dc2626")
	ColorDefault    = lipgloss.Color("#9ca3af")
)

// Progress bar gradient.
var (
	ColorBarStart = "#3b82f6"
	ColorBarEnd   = "#22c55e"
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// PhaseColor returns the Lip Gloss color for a job phase.
func PhaseColor(p progress.Phase) lipgloss.Color {
	switch p {
	case progress.PhaseIdle:
		return ColorIdle
	case progress.PhaseUploading:
		return ColorUploading
	case progress.PhaseAwaitingProcessing:
		return ColorAwaiting
	case progress.PhaseProcessing:
		return ColorProcessing
	case progress.PhaseCompleted:
		return ColorCompleted
	case progress.PhaseFailed:
		return ColorFailed
	default:
		return ColorDefault
	}
}

// PhaseGlyph returns a Unicode glyph representing a job phase.
func PhaseGlyph(p progress.Phase) string {
	switch p {
	case progress.PhaseIdle:
		return "○"
	case progress.PhaseUploading:
		return "↑"
	case progress.PhaseAwaitingProcessing:
		return "◌"
	case progress.PhaseProcessing:
		return "⚙"
	case progress.PhaseCompleted:
		return "✓"
	case progress.PhaseFailed:
		return "✗"
	default:
		return "·"
	}
}

// PhaseBadge renders the glyph and phase name in the phase color.
func PhaseBadge(p progress.Phase) string {
	return lipgloss.NewStyle().Foreground(PhaseColor(p)).Bold(true).
		Render(PhaseGlyph(p) + " " + p.String())
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleError = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorDanger)
)
