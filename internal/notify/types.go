// Package notify defines the push-notification wire protocol of the
// transcription backend and decodes it into typed events.
// The development server encodes with the same Envelope, so both sides share
// one definition.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the kind of a pushed event.
type Kind string

const (
	KindStarted      Kind = "started"
	KindProgress     Kind = "progress"
	KindCompleted    Kind = "completed"
	KindFailed       Kind = "failed"
	KindSystemNotice Kind = "system_notification"
)

// Valid reports whether k belongs to the closed set of known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindStarted, KindProgress, KindCompleted, KindFailed, KindSystemNotice:
		return true
	}
	return false
}

// Terminal reports whether k ends a job.
func (k Kind) Terminal() bool {
	return k == KindCompleted || k == KindFailed
}

// ID is a subject identifier. The backend sends meeting ids as JSON numbers
// and task ids as strings; both decode into the same string form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// Envelope is the JSON object pushed by the server for every event.
type Envelope struct {
	EventType       Kind          `json:"event_type"`
	MeetingID       ID            `json:"meeting_id,omitempty"`
	TaskID          string        `json:"task_id,omitempty"`
	Timestamp       string        `json:"timestamp"`
	Message         string        `json:"message,omitempty"`
	Filename        string        `json:"filename,omitempty"`
	TranscriptionID int64         `json:"transcription_id,omitempty"`
	SpeakersCount   int           `json:"speakers_count,omitempty"`
	Error           string        `json:"error,omitempty"`
	Progress        *ProgressInfo `json:"progress,omitempty"`
}

// ProgressInfo is the step report carried by progress events.
type ProgressInfo struct {
	Status                    string   `json:"status"`
	Step                      string   `json:"step"`
	Percentage                float64  `json:"progress_percentage"`
	Message                   string   `json:"message"`
	Details                   string   `json:"details,omitempty"`
	EstimatedRemainingSeconds *float64 `json:"estimated_remaining_seconds,omitempty"`
}

// Notification is one decoded server event. Payload holds the kind-specific
// fields and is always one of Started, Progress, Completed, Failed or
// SystemNotice, matching Kind.
type Notification struct {
	Kind      Kind
	MeetingID string
	TaskID    string
	Timestamp time.Time
	Message   string
	Payload   Payload
}

// Payload is the kind-specific part of a Notification.
type Payload interface {
	kind() Kind
}

// Started is sent when the server accepts the job.
type Started struct {
	Filename string
}

// Progress reports one processing step.
type Progress struct {
	Status    string
	Step      string
	Percent   float64 // always within [0,100]
	Message   string
	Details   string
	Remaining *time.Duration
}

// Completed is sent once the transcription is stored.
type Completed struct {
	TranscriptionID int64
	SpeakersCount   int
	Filename        string
}

// Failed carries the server-reported job error.
type Failed struct {
	Error string
}

// SystemNotice is an informational message unrelated to job progress.
type SystemNotice struct{}

func (Started) kind() Kind      { return KindStarted }
func (Progress) kind() Kind     { return KindProgress }
func (Completed) kind() Kind    { return KindCompleted }
func (Failed) kind() Kind       { return KindFailed }
func (SystemNotice) kind() Kind { return KindSystemNotice }

// Subject returns the meeting id, falling back to the task id.
func (n Notification) Subject() string {
	if n.MeetingID != "" {
		return n.MeetingID
	}
	return n.TaskID
}

// Progress returns the progress payload, if n is a progress event.
func (n Notification) Progress() (Progress, bool) {
	p, ok := n.Payload.(Progress)
	return p, ok
}

// Failure returns the failure detail, if n is a failed event.
func (n Notification) Failure() (Failed, bool) {
	f, ok := n.Payload.(Failed)
	return f, ok
}

// Completion returns the completion payload, if n is a completed event.
func (n Notification) Completion() (Completed, bool) {
	c, ok := n.Payload.(Completed)
	return c, ok
}
