// Package source provides notification sources that complement the
// websocket channel.
package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/meetscribe/client/internal/client"
	"github.com/meetscribe/client/internal/notify"
)

// DefaultPollInterval matches the status check cadence of the web client.
const DefaultPollInterval = 5 * time.Second

// TranscriptionGetter fetches a meeting's stored transcription.
type TranscriptionGetter interface {
	GetTranscription(ctx context.Context, meetingID string) (*client.Transcription, error)
}

// PollSource reports completion by polling for the stored transcription.
// It never reports progress or failure; a missing transcription just means
// the job is still running.
type PollSource struct {
	Client   TranscriptionGetter
	Interval time.Duration
	Logger   *slog.Logger
}

// Subscribe implements notify.Source.
func (p PollSource) Subscribe(subject string, sink notify.Sink) notify.Subscription {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &pollSub{cancel: cancel, done: make(chan struct{})}
	go s.loop(ctx, p.Client, subject, interval, sink,
		logger.With("component", "poll_source", "subject", subject))
	return s
}

type pollSub struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *pollSub) Unsubscribe() {
	s.cancel()
	<-s.done
}

func (s *pollSub) loop(ctx context.Context, c TranscriptionGetter, subject string, interval time.Duration, sink notify.Sink, log *slog.Logger) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		t, err := c.GetTranscription(ctx, subject)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, client.ErrNotFound):
			log.Debug("transcription not ready")
			continue
		case err != nil:
			log.Warn("transcription poll failed", "error", err)
			continue
		}

		log.Info("transcription available", "transcription_id", t.ID)
		sink.Deliver(notify.Notification{
			Kind:      notify.KindCompleted,
			MeetingID: subject,
			Timestamp: time.Now().UTC(),
			Message:   "transcription available",
			Payload:   notify.Completed{TranscriptionID: t.ID},
		})
		return
	}
}

var _ notify.Source = PollSource{}
