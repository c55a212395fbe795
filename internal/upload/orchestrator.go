// Package upload drives one transcription job from file upload to the
// server's terminal notification.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/meetscribe/client/internal/client"
	"github.com/meetscribe/client/internal/notify"
	"github.com/meetscribe/client/internal/progress"
)

// DefaultMaxSize is the largest accepted audio file.
const DefaultMaxSize int64 = 100 << 20

// DefaultExtensions lists the accepted audio and video containers.
var DefaultExtensions = []string{"mp3", "wav", "m4a", "mp4", "webm", "ogg"}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Uploader is the REST collaborator that submits audio.
type Uploader interface {
	UploadAudio(ctx context.Context, meetingID string, file client.AudioFile, onProgress client.ProgressFunc) (*client.TranscribeAccepted, error)
}

// Options configures an Orchestrator.
type Options struct {
	Uploader Uploader
	// Sources deliver server notifications. The first is normally the
	// websocket channel; the rest are fallbacks feeding the same aggregator.
	Sources    []notify.Source
	Aggregator *progress.Aggregator
	MaxSize    int64
	Extensions []string
	Logger     *slog.Logger
}

// Orchestrator runs one job at a time. Starting a new job supersedes the
// active one.
type Orchestrator struct {
	up      Uploader
	sources []notify.Source
	agg     *progress.Aggregator
	maxSize int64
	exts    map[string]bool
	log     *slog.Logger

	mu     sync.Mutex
	active *job
}

type job struct {
	id         string
	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}

	mu    sync.Mutex
	gen   uint64
	bound bool
}

func (j *job) stop() {
	j.cancelOnce.Do(func() { close(j.cancel) })
}

// bind records the job's aggregator generation. It reports false when the
// job was stopped first; the caller then retires gen itself.
func (j *job) bind(gen uint64) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.gen, j.bound = gen, true
	return !j.stopped()
}

// halt stops the job and retires its generation, so no progress change of
// this job is accepted once halt returns.
func (j *job) halt(agg *progress.Aggregator) {
	j.mu.Lock()
	j.stop()
	gen, bound := j.gen, j.bound
	j.mu.Unlock()
	if bound {
		agg.Retire(gen)
	}
}

func (j *job) stopped() bool {
	select {
	case <-j.cancel:
		return true
	default:
		return false
	}
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Aggregator == nil {
		opts.Aggregator = progress.NewAggregator(progress.DefaultUploadCeiling)
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	exts := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return &Orchestrator{
		up:      opts.Uploader,
		sources: opts.Sources,
		agg:     opts.Aggregator,
		maxSize: opts.MaxSize,
		exts:    exts,
		log:     opts.Logger.With("component", "upload"),
	}
}

// OnProgressChange registers fn for every progress snapshot.
func (o *Orchestrator) OnProgressChange(fn func(progress.State)) func() {
	return o.agg.OnChange(fn)
}

// Progress returns the current progress snapshot.
func (o *Orchestrator) Progress() progress.State {
	return o.agg.Snapshot()
}

// Cancel cancels the active job, if any. Progress is frozen when Cancel
// returns; the job's Upload call returns a cancelled Outcome.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	j := o.active
	o.mu.Unlock()
	if j != nil {
		j.halt(o.agg)
	}
}

// Validate checks in without starting a job.
func (o *Orchestrator) Validate(in Input) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.Size > o.maxSize {
		return fmt.Errorf("%w: file is %.1f MB, limit is %.1f MB", ErrInvalidInput,
			float64(in.Size)/(1<<20), float64(o.maxSize)/(1<<20))
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(in.FileName), "."))
	if !o.exts[ext] {
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidInput, ext)
	}
	if len(o.sources) == 0 {
		return errors.New("upload: no notification sources configured")
	}
	return nil
}

// Upload runs a job to its terminal outcome. It returns an error only when
// in is rejected before the job starts; every started job ends in exactly
// one Outcome. Cancelling ctx cancels the job.
func (o *Orchestrator) Upload(ctx context.Context, in Input) (Outcome, error) {
	if err := o.Validate(in); err != nil {
		return Outcome{}, err
	}
	return o.start(ctx, in, true), nil
}

// Watch follows a job that was submitted elsewhere, starting from the
// awaiting-processing phase. It supersedes the active job like Upload.
func (o *Orchestrator) Watch(ctx context.Context, meetingID string) (Outcome, error) {
	if meetingID == "" {
		return Outcome{}, fmt.Errorf("%w: meeting id is required", ErrInvalidInput)
	}
	if len(o.sources) == 0 {
		return Outcome{}, errors.New("upload: no notification sources configured")
	}
	return o.start(ctx, Input{MeetingID: meetingID}, false), nil
}

func (o *Orchestrator) start(ctx context.Context, in Input, withUpload bool) Outcome {
	j := &job{id: uuid.NewString(), cancel: make(chan struct{}), done: make(chan struct{})}
	defer close(j.done)

	o.mu.Lock()
	prev := o.active
	o.active = j
	o.mu.Unlock()
	if prev != nil {
		o.log.Info("superseding active job", "job_id", prev.id)
		prev.halt(o.agg)
		<-prev.done
	}
	defer func() {
		o.mu.Lock()
		if o.active == j {
			o.active = nil
		}
		o.mu.Unlock()
	}()

	return o.run(ctx, j, in, withUpload)
}

func (o *Orchestrator) run(ctx context.Context, j *job, in Input, withUpload bool) Outcome {
	log := o.log.With("job_id", j.id, "meeting_id", in.MeetingID)
	gen := o.agg.Reset()
	if !j.bind(gen) {
		o.agg.Retire(gen)
		log.Info("job cancelled before start")
		return Outcome{JobID: j.id, MeetingID: in.MeetingID, Status: StatusCancelled, Final: o.agg.Snapshot()}
	}

	finished := make(chan struct{})
	events := make(chan notify.Notification, 64)
	errs := make(chan error, 8)
	sink := notify.Sink{
		OnNotification: func(n notify.Notification) {
			select {
			case events <- n:
			case <-finished:
			}
		},
		OnError: func(err error) {
			select {
			case errs <- err:
			case <-finished:
			}
		},
	}

	subs := make([]notify.Subscription, 0, len(o.sources))
	for _, src := range o.sources {
		subs = append(subs, src.Subscribe(in.MeetingID, sink))
	}
	live := len(subs)

	upCtx, upCancel := context.WithCancel(ctx)
	var uploadDone chan error
	if withUpload {
		uploadDone = make(chan error, 1)
		go func() {
			file := client.AudioFile{Name: in.FileName, Size: in.Size, Body: in.Body}
			_, err := o.up.UploadAudio(upCtx, in.MeetingID, file, func(sent, total int64) {
				o.agg.ReportUploadBytes(gen, sent, total)
			})
			uploadDone <- err
		}()
		log.Info("job started", "file", in.FileName, "size", in.Size)
	} else {
		o.agg.MarkUploaded(gen)
		log.Info("watching job")
	}

	var once sync.Once
	finish := func(out Outcome) Outcome {
		once.Do(func() {
			upCancel()
			close(finished)
			for _, s := range subs {
				s.Unsubscribe()
			}
		})
		out.JobID = j.id
		out.MeetingID = in.MeetingID
		out.Final = o.agg.Snapshot()
		log.Info("job finished", "status", out.Status, "reason", out.Reason)
		return out
	}
	cancelled := func() Outcome {
		o.agg.Retire(gen)
		return finish(Outcome{Status: StatusCancelled})
	}
	failed := func(reason string) Outcome {
		o.agg.ReportFailure(gen, reason)
		return finish(Outcome{Status: StatusFailed, Reason: reason})
	}

	for {
		select {
		case <-j.cancel:
			return cancelled()

		case <-ctx.Done():
			return cancelled()

		case err := <-uploadDone:
			uploadDone = nil
			if err != nil {
				if j.stopped() || ctx.Err() != nil {
					return cancelled()
				}
				log.Warn("upload failed", "error", err)
				return failed(err.Error())
			}
			log.Info("upload acknowledged, awaiting server")
			o.agg.MarkUploaded(gen)

		case n := <-events:
			if subj := n.Subject(); subj != "" && subj != in.MeetingID {
				log.Debug("ignoring notification for another meeting", "subject", subj)
				continue
			}
			o.agg.ReportServerEvent(gen, n)
			switch p := n.Payload.(type) {
			case notify.Completed:
				return finish(Outcome{Status: StatusCompleted, Result: &p})
			case notify.Failed:
				reason := p.Error
				if reason == "" {
					reason = "transcription failed"
				}
				return finish(Outcome{Status: StatusFailed, Reason: reason})
			}

		case err := <-errs:
			if !errors.Is(err, notify.ErrConnectionLost) {
				log.Debug("notification source hiccup", "error", err)
				continue
			}
			live--
			log.Warn("notification source gave up", "error", err, "remaining", live)
			if live <= 0 {
				return failed(ReasonConnectionLost)
			}
		}
	}
}
