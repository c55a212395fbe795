// Package progress merges upload byte progress and server step events into a
// single monotonic progress signal for one job at a time.
package progress

import "time"

// Phase is a coarse stage of a job.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseUploading
	PhaseAwaitingProcessing
	PhaseProcessing
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseUploading:
		return "uploading"
	case PhaseAwaitingProcessing:
		return "awaiting-processing"
	case PhaseProcessing:
		return "processing"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further updates are accepted in p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Active reports whether p belongs to a running job.
func (p Phase) Active() bool {
	return p > PhaseIdle && !p.Terminal()
}

// State is the unified view of a job's progress.
type State struct {
	Percent   int
	Label     string
	Phase     Phase
	Step      string
	Error     string
	Remaining *time.Duration
	UpdatedAt time.Time
}
