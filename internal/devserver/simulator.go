package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meetscribe/client/internal/notify"
	"github.com/meetscribe/client/internal/progress"
	"github.com/meetscribe/client/internal/source"
)

// Publisher mirrors events to a message bus. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Simulator plays a transcription job as a sequence of pushed events.
type Simulator struct {
	hub      *Hub
	store    *Store
	interval time.Duration
	failStep progress.Step
	mirror   Publisher
	prefix   string
	log      *slog.Logger

	wg sync.WaitGroup
}

// Start runs a job for meetingID in the background and returns its task id.
func (s *Simulator) Start(ctx context.Context, meetingID int64, filename string) string {
	taskID := uuid.NewString()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, meetingID, taskID, filename)
	}()
	return taskID
}

// Wait blocks until every started job has finished.
func (s *Simulator) Wait() { s.wg.Wait() }

func (s *Simulator) run(ctx context.Context, meetingID int64, taskID, filename string) {
	log := s.log.With("meeting_id", meetingID, "task_id", taskID)
	room := strconv.FormatInt(meetingID, 10)
	base := notify.Envelope{MeetingID: notify.ID(room), TaskID: taskID}

	started := base
	started.EventType = notify.KindStarted
	started.Filename = filename
	started.Message = "Transcription started"
	s.emit(room, started)

	steps := progress.Steps
	for i, step := range steps {
		if !s.sleep(ctx) {
			log.Info("simulation aborted")
			return
		}
		if step == s.failStep {
			failed := base
			failed.EventType = notify.KindFailed
			failed.Error = fmt.Sprintf("processing failed during %s", step)
			failed.Message = "Transcription failed"
			s.emit(room, failed)
			log.Info("simulated failure", "step", step)
			return
		}

		remaining := float64(len(steps)-i) * s.interval.Seconds()
		ev := base
		ev.EventType = notify.KindProgress
		ev.Progress = &notify.ProgressInfo{
			Status:                    "processing",
			Step:                      string(step),
			Percentage:                float64(i) * 100 / float64(len(steps)),
			Message:                   progress.StepLabel(string(step), ""),
			EstimatedRemainingSeconds: &remaining,
		}
		s.emit(room, ev)
	}
	if !s.sleep(ctx) {
		return
	}

	t := s.store.SaveTranscription(meetingID, transcript(filename), []string{"planning", "follow-ups"})
	done := base
	done.EventType = notify.KindCompleted
	done.Filename = filename
	done.TranscriptionID = t.ID
	done.SpeakersCount = 2
	done.Message = "Transcription completed"
	s.emit(room, done)
	log.Info("simulated job completed", "transcription_id", t.ID)
}

func (s *Simulator) emit(room string, env notify.Envelope) {
	env.Timestamp = serverTime(time.Now())
	if err := s.hub.Publish(room, env); err != nil {
		s.log.Error("publish failed", "error", err)
		return
	}
	if s.mirror == nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := s.mirror.Publish(source.Subject(s.prefix, room), data); err != nil {
		s.log.Warn("mirror publish failed", "error", err)
	}
}

func (s *Simulator) sleep(ctx context.Context) bool {
	t := time.NewTimer(s.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func transcript(filename string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", filename)
	b.WriteString("**SPEAKER_00** [0:00 - 0:07]: Good morning, let's go through the agenda.\n\n")
	b.WriteString("**SPEAKER_01** [0:07 - 0:15]: Sure. The release is on track for Friday.\n\n")
	b.WriteString("**SPEAKER_00** [0:15 - 0:21]: Great, then the only open item is the migration plan.\n")
	return b.String()
}
