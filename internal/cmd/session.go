package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nats-io/nats.go"

	"github.com/meetscribe/client/internal/channel"
	"github.com/meetscribe/client/internal/client"
	"github.com/meetscribe/client/internal/notify"
	"github.com/meetscribe/client/internal/progress"
	"github.com/meetscribe/client/internal/source"
	"github.com/meetscribe/client/internal/tui"
	"github.com/meetscribe/client/internal/upload"
)

// session wires the REST client, notification sources and orchestrator for
// one command invocation.
type session struct {
	app     *app
	api     *client.HTTPClient
	orch    *upload.Orchestrator
	nc      *nats.Conn
	sources int

	// send forwards lifecycle messages to the TUI. It is replaced before
	// any job starts.
	send func(tea.Msg)
}

func newSession(a *app) *session {
	cfg := a.cfg
	s := &session{app: a, send: func(tea.Msg) {}}
	s.api = client.NewHTTPClient(client.Options{
		BaseURL:       cfg.API.BaseURL,
		Token:         cfg.API.Token,
		Timeout:       cfg.API.Timeout,
		UploadTimeout: cfg.API.UploadTimeout,
		Logger:        a.log,
	})

	ch := channel.New(channel.Config{
		BaseURL:          cfg.API.WSURL,
		Token:            cfg.API.Token,
		BaseDelay:        cfg.Channel.ReconnectBaseDelay,
		MaxAttempts:      cfg.Channel.MaxReconnectAttempts,
		HandshakeTimeout: cfg.Channel.HandshakeTimeout,
		WriteTimeout:     cfg.Channel.WriteTimeout,
	}, a.log)
	sources := []notify.Source{channel.Source{
		Channel:           ch,
		HeartbeatInterval: cfg.Channel.HeartbeatInterval,
		OnState:           func(st channel.State) { s.send(tui.ConnMsg{State: st}) },
	}}

	if cfg.Fallback.PollInterval > 0 {
		sources = append(sources, source.PollSource{
			Client:   s.api,
			Interval: cfg.Fallback.PollInterval,
			Logger:   a.log,
		})
	}
	if cfg.Fallback.NATSURL != "" {
		nc, err := source.Connect(cfg.Fallback.NATSURL, "meetscribe")
		if err != nil {
			a.log.Warn("NATS fallback disabled", "error", err)
		} else {
			s.nc = nc
			sources = append(sources, source.NATSSource{
				Conn:   nc,
				Prefix: cfg.Fallback.NATSSubjectPrefix,
				Logger: a.log,
			})
		}
	}
	s.sources = len(sources)

	s.orch = upload.New(upload.Options{
		Uploader:   s.api,
		Sources:    sources,
		Aggregator: progress.NewAggregator(cfg.Progress.UploadCeiling),
		MaxSize:    cfg.MaxUploadBytes(),
		Extensions: cfg.Upload.AllowedExtensions,
		Logger:     a.log,
	})
	return s
}

func (s *session) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

type jobFunc func(ctx context.Context) (upload.Outcome, error)

// run executes job either behind the TUI or with line output on out.
func (s *session) run(ctx context.Context, opts tui.Options, plain bool, out io.Writer, job jobFunc) (upload.Outcome, error) {
	if plain {
		return s.runPlain(ctx, opts, out, job)
	}
	return s.runTUI(ctx, opts, job)
}

func (s *session) runPlain(ctx context.Context, opts tui.Options, out io.Writer, job jobFunc) (upload.Outcome, error) {
	var last progress.State
	remove := s.orch.OnProgressChange(func(st progress.State) {
		if st.Percent == last.Percent && st.Phase == last.Phase && st.Label == last.Label {
			return
		}
		last = st
		fmt.Fprintf(out, "%3d%%  %-19s %s\n", st.Percent, st.Phase, st.Label)
	})
	defer remove()

	res, err := job(ctx)
	if err != nil {
		return res, err
	}
	if res.Status == upload.StatusCompleted && opts.Fetch != nil {
		t, err := opts.Fetch(ctx)
		if err != nil {
			s.app.log.Warn("could not load transcript", "meeting_id", opts.MeetingID, "error", err)
		} else {
			fmt.Fprintf(out, "\n%s\n", strings.TrimSpace(t.Content))
		}
	}
	return res, nil
}

func (s *session) runTUI(ctx context.Context, opts tui.Options, job jobFunc) (upload.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts.Cancel = s.orch.Cancel
	opts.Sources = s.sources
	p := tea.NewProgram(tui.New(opts), tea.WithAltScreen())
	s.send = p.Send

	remove := s.orch.OnProgressChange(func(st progress.State) { p.Send(tui.StateMsg{State: st}) })
	defer remove()

	type result struct {
		out upload.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := job(ctx)
		if err != nil {
			p.Quit()
		} else {
			p.Send(tui.OutcomeMsg{Outcome: res})
		}
		done <- result{res, err}
	}()

	_, runErr := p.Run()
	// The job may still be running if the user quit early.
	cancel()
	r := <-done
	if runErr != nil {
		return r.out, fmt.Errorf("tui: %w", runErr)
	}
	return r.out, r.err
}

// report prints the outcome and maps it to the command's error.
func report(out io.Writer, res upload.Outcome) error {
	switch res.Status {
	case upload.StatusCompleted:
		if r := res.Result; r != nil {
			fmt.Fprintf(out, "Transcription %d ready for meeting %s (%d speakers)\n", r.TranscriptionID, res.MeetingID, r.SpeakersCount)
		} else {
			fmt.Fprintf(out, "Transcription ready for meeting %s\n", res.MeetingID)
		}
		return nil
	case upload.StatusFailed:
		return fmt.Errorf("transcription failed: %s", res.Reason)
	case upload.StatusCancelled:
		fmt.Fprintln(out, "Cancelled")
		return nil
	}
	return fmt.Errorf("job ended without an outcome")
}
