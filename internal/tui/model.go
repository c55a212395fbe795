// Package tui renders one transcription job in the terminal: a progress bar
// fed by the aggregator, the job outcome and a transcript preview.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	pbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/meetscribe/client/internal/channel"
	"github.com/meetscribe/client/internal/client"
	"github.com/meetscribe/client/internal/progress"
	"github.com/meetscribe/client/internal/theme"
	"github.com/meetscribe/client/internal/upload"
)

const (
	defaultPreviewLines  = 12
	defaultMarkdownStyle = "dark"
	fetchTimeout         = 30 * time.Second
)

// Options configures the model.
type Options struct {
	Title     string
	MeetingID string
	FileName  string
	Sources   int
	// Cancel stops the running job. Its outcome still arrives as an
	// OutcomeMsg.
	Cancel func()
	// Fetch loads the transcript after a completed job. Optional.
	Fetch func(ctx context.Context) (*client.Transcription, error)
	// MarkdownStyle is a glamour style name such as "dark" or "notty".
	MarkdownStyle string
	PreviewLines  int
}

// --- Bubble Tea messages ---

// StateMsg delivers a progress snapshot.
type StateMsg struct{ State progress.State }

// ConnMsg reports a push channel lifecycle transition.
type ConnMsg struct{ State channel.State }

// OutcomeMsg delivers the job's terminal outcome.
type OutcomeMsg struct{ Outcome upload.Outcome }

// TranscriptMsg carries the fetched transcript or the fetch error.
type TranscriptMsg struct {
	Transcription *client.Transcription
	Err           error
}

// Model is the root Bubble Tea model.
type Model struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	bar    pbar.Model
	spin   spinner.Model
	status statusBar

	state      progress.State
	outcome    *upload.Outcome
	transcript string
	fetchErr   error
}

// New creates the root model.
func New(opts Options) Model {
	if opts.MarkdownStyle == "" {
		opts.MarkdownStyle = defaultMarkdownStyle
	}
	if opts.PreviewLines <= 0 {
		opts.PreviewLines = defaultPreviewLines
	}
	if opts.Cancel == nil {
		opts.Cancel = func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		keys:   DefaultKeyMap(),
		bar:    pbar.New(pbar.WithGradient(theme.ColorBarStart, theme.ColorBarEnd)),
		spin: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(theme.ColorProcessing)),
		),
		status: statusBar{MeetingID: opts.MeetingID, Sources: opts.Sources},
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Outcome returns the job outcome once it has arrived.
func (m Model) Outcome() (upload.Outcome, bool) {
	if m.outcome == nil {
		return upload.Outcome{}, false
	}
	return *m.outcome, true
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.status.Width = msg.Width
		m.bar.Width = clamp(msg.Width-4, 10, 80)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateMsg:
		if m.outcome == nil {
			m.state = msg.State
		}
		return m, nil

	case ConnMsg:
		m.status.Conn = msg.State
		m.status.ConnKnown = true
		return m, nil

	case OutcomeMsg:
		out := msg.Outcome
		m.outcome = &out
		m.state = out.Final
		if out.JobID != "" {
			m.status.JobID = out.JobID
		}
		if out.Status == upload.StatusCompleted && m.opts.Fetch != nil {
			return m, m.fetch()
		}
		return m, nil

	case TranscriptMsg:
		if msg.Err != nil {
			m.fetchErr = msg.Err
			return m, nil
		}
		m.transcript = renderTranscript(msg.Transcription, m.opts.MarkdownStyle, m.opts.PreviewLines)
		return m, nil

	case spinner.TickMsg:
		if m.outcome != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.outcome == nil {
			m.opts.Cancel()
		}
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.outcome == nil {
			m.opts.Cancel()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) fetch() tea.Cmd {
	ctx, fetch := m.ctx, m.opts.Fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
		t, err := fetch(ctx)
		return TranscriptMsg{Transcription: t, Err: err}
	}
}

// View renders the full screen.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	sections := []string{m.renderHeader(), "", m.bar.ViewAs(float64(m.state.Percent) / 100), m.renderLabel()}
	if line := m.renderOutcome(); line != "" {
		sections = append(sections, "", line)
	}
	if m.transcript != "" {
		sections = append(sections, theme.StyleBorder.Width(clamp(m.width-2, 20, 100)).Render(m.transcript))
	}
	sections = append(sections, m.renderHelp(), m.status.View())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	title := m.opts.Title
	if title == "" {
		title = "Meeting " + m.opts.MeetingID
	}
	header := theme.StyleHeader.Render(title)
	if m.opts.FileName != "" {
		header += "  " + theme.StyleDimmed.Render(m.opts.FileName)
	}
	return header
}

func (m Model) renderLabel() string {
	var b strings.Builder
	if m.state.Phase.Active() && m.outcome == nil {
		b.WriteString(m.spin.View())
		b.WriteString(" ")
	}
	b.WriteString(theme.PhaseBadge(m.state.Phase))
	fmt.Fprintf(&b, " %3d%%", m.state.Percent)
	if m.state.Label != "" {
		b.WriteString("  ")
		b.WriteString(m.state.Label)
	}
	if r := m.state.Remaining; r != nil && m.state.Phase.Active() {
		b.WriteString("  ")
		b.WriteString(theme.StyleDimmed.Render("~" + r.Round(time.Second).String() + " left"))
	}
	return b.String()
}

func (m Model) renderOutcome() string {
	if m.outcome == nil {
		return ""
	}
	switch m.outcome.Status {
	case upload.StatusCompleted:
		line := lipgloss.NewStyle().Foreground(theme.ColorCompleted).Bold(true).Render("✓ Transcription ready")
		if r := m.outcome.Result; r != nil {
			line += fmt.Sprintf("  #%d, %d speakers", r.TranscriptionID, r.SpeakersCount)
		}
		if m.fetchErr != nil {
			line += "\n" + theme.StyleError.Render("could not load transcript: "+m.fetchErr.Error())
		}
		return line
	case upload.StatusFailed:
		return theme.StyleError.Render("✗ Failed: " + m.outcome.Reason)
	case upload.StatusCancelled:
		return theme.StyleDimmed.Render("Cancelled")
	}
	return ""
}

func (m Model) renderHelp() string {
	bindings := []key.Binding{m.keys.Quit}
	if m.outcome == nil {
		bindings = append(bindings, m.keys.Cancel)
	}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return theme.StyleDimmed.Render(strings.Join(parts, "  "))
}

// renderTranscript builds a markdown preview of t and renders it with
// glamour, falling back to the raw markdown if rendering fails.
func renderTranscript(t *client.Transcription, style string, maxLines int) string {
	if t == nil {
		return ""
	}
	var md strings.Builder
	md.WriteString("## Transcript\n\n")
	lines := strings.Split(strings.TrimSpace(t.Content), "\n")
	if len(lines) > maxLines {
		lines = append(lines[:maxLines], "…")
	}
	for _, l := range lines {
		md.WriteString(l)
		md.WriteString("\n\n")
	}
	if t.Summary != nil && *t.Summary != "" {
		md.WriteString("## Summary\n\n")
		md.WriteString(*t.Summary)
		md.WriteString("\n\n")
	}
	if len(t.Topics) > 0 {
		md.WriteString("**Topics:** ")
		md.WriteString(strings.Join(t.Topics, ", "))
		md.WriteString("\n")
	}

	out, err := glamour.Render(md.String(), style)
	if err != nil {
		return md.String()
	}
	return strings.TrimRight(out, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
