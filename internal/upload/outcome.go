package upload

import (
	"errors"
	"io"

	"github.com/meetscribe/client/internal/notify"
	"github.com/meetscribe/client/internal/progress"
)

// ReasonConnectionLost is the failure reason when every notification
// source has given up.
const ReasonConnectionLost = "connection lost"

// ErrInvalidInput wraps every input validation failure.
var ErrInvalidInput = errors.New("invalid upload input")

// Input describes one job: an audio file bound for an existing meeting.
type Input struct {
	MeetingID string    `validate:"required"`
	FileName  string    `validate:"required"`
	Size      int64     `validate:"gt=0"`
	Body      io.Reader `validate:"required"`
}

// Status is the terminal status of a job.
type Status int

const (
	StatusCompleted Status = iota + 1
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Outcome is the single terminal result of Upload.
type Outcome struct {
	JobID     string
	MeetingID string
	Status    Status
	// Result is set when Status is StatusCompleted.
	Result *notify.Completed
	// Reason is set when Status is StatusFailed.
	Reason string
	// Final is the progress snapshot at the moment the job ended.
	Final progress.State
}
