package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/meetscribe/client/internal/channel"
	"github.com/meetscribe/client/internal/client"
	"github.com/meetscribe/client/internal/notify"
	"github.com/meetscribe/client/internal/progress"
	"github.com/meetscribe/client/internal/upload"
)

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestViewBeforeSize(t *testing.T) {
	m := New(Options{MeetingID: "42"})
	if got := m.View(); got != "Initializing..." {
		t.Errorf("View() = %q", got)
	}
}

func TestViewShowsProgress(t *testing.T) {
	m := sized(New(Options{Title: "Weekly sync", MeetingID: "42", FileName: "sync.wav"}))
	m, _ = update(t, m, StateMsg{State: progress.State{
		Percent: 57, Phase: progress.PhaseProcessing, Label: "Converting speech to text...",
	}})

	v := m.View()
	for _, want := range []string{"Weekly sync", "sync.wav", "57%", "processing", "Converting speech to text", "meeting 42"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestConnStateInStatusBar(t *testing.T) {
	tests := []struct {
		state channel.State
		want  string
	}{
		{channel.StateOpen, "Connected"},
		{channel.StateReconnecting, "Reconnecting..."},
		{channel.StateTerminated, "Terminated"},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			m := sized(New(Options{MeetingID: "42"}))
			m, _ = update(t, m, ConnMsg{State: tt.state})
			if v := m.View(); !strings.Contains(v, tt.want) {
				t.Errorf("view missing %q:\n%s", tt.want, v)
			}
		})
	}
}

func TestQuitCancelsActiveJob(t *testing.T) {
	cancelled := 0
	m := sized(New(Options{MeetingID: "42", Cancel: func() { cancelled++ }}))

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cancelled != 1 {
		t.Errorf("Cancel called %d times, want 1", cancelled)
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestQuitAfterOutcomeDoesNotCancel(t *testing.T) {
	cancelled := 0
	m := sized(New(Options{MeetingID: "42", Cancel: func() { cancelled++ }}))
	m, _ = update(t, m, OutcomeMsg{Outcome: upload.Outcome{Status: upload.StatusFailed, Reason: "connection lost"}})

	if v := m.View(); !strings.Contains(v, "Failed: connection lost") {
		t.Errorf("view missing failure line:\n%s", v)
	}
	update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if cancelled != 0 {
		t.Errorf("Cancel called after the job ended")
	}
}

func TestLateStateIgnoredAfterOutcome(t *testing.T) {
	m := sized(New(Options{MeetingID: "42"}))
	final := progress.State{Percent: 7, Phase: progress.PhaseIdle}
	m, _ = update(t, m, OutcomeMsg{Outcome: upload.Outcome{Status: upload.StatusCancelled, Final: final}})
	m, _ = update(t, m, StateMsg{State: progress.State{Percent: 30, Phase: progress.PhaseProcessing}})

	if m.state != final {
		t.Errorf("state = %+v, want %+v", m.state, final)
	}
	if out, ok := m.Outcome(); !ok || out.Status != upload.StatusCancelled {
		t.Errorf("Outcome() = %+v, %v", out, ok)
	}
}

func TestCompletedFetchesTranscript(t *testing.T) {
	summary := "Agreed to ship on Friday."
	fetch := func(ctx context.Context) (*client.Transcription, error) {
		return &client.Transcription{
			ID:      9,
			Content: "Speaker 1: hello\nSpeaker 2: hi",
			Summary: &summary,
			Topics:  []string{"release"},
		}, nil
	}
	m := sized(New(Options{MeetingID: "42", Fetch: fetch, MarkdownStyle: "notty"}))

	m, cmd := update(t, m, OutcomeMsg{Outcome: upload.Outcome{
		Status: upload.StatusCompleted,
		Result: &notify.Completed{TranscriptionID: 9, SpeakersCount: 2},
		Final:  progress.State{Percent: 100, Phase: progress.PhaseCompleted},
	}})
	if cmd == nil {
		t.Fatal("completed outcome should fetch the transcript")
	}
	m, _ = update(t, m, cmd())

	v := m.View()
	for _, want := range []string{"Transcription ready", "#9, 2 speakers", "Speaker 1: hello", "Agreed to ship on Friday.", "release"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestFetchErrorShown(t *testing.T) {
	m := sized(New(Options{MeetingID: "42"}))
	m, _ = update(t, m, OutcomeMsg{Outcome: upload.Outcome{Status: upload.StatusCompleted}})
	m, _ = update(t, m, TranscriptMsg{Err: errors.New("GET /api/transcriptions/42: not found")})

	if v := m.View(); !strings.Contains(v, "could not load transcript") {
		t.Errorf("view missing fetch error:\n%s", v)
	}
}

func TestRenderTranscriptTruncates(t *testing.T) {
	content := strings.Repeat("line\n", 20) + "tail-marker"
	out := renderTranscript(&client.Transcription{Content: content}, "notty", 5)
	if strings.Contains(out, "tail-marker") {
		t.Error("preview should drop lines past the limit")
	}
	if !strings.Contains(out, "…") {
		t.Error("preview should mark truncation")
	}
}
