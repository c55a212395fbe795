package client

import (
	"io"
	"strconv"
)

// MeetingCreate is the body of POST /api/meetings/.
type MeetingCreate struct {
	Title        string   `json:"title" validate:"required,max=200"`
	Description  string   `json:"description"`
	Date         string   `json:"date" validate:"required"`
	Participants []string `json:"participants" validate:"dive,required"`
}

// Meeting is the backend's meeting record. Timestamps are kept as the
// server sends them (zone-less ISO-8601).
type Meeting struct {
	ID               int64    `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Date             string   `json:"date"`
	Participants     []string `json:"participants"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
	HasTranscription bool     `json:"has_transcription"`
	HasSummary       bool     `json:"has_summary"`
}

// Subject returns the meeting id as a notification subject.
func (m Meeting) Subject() string { return strconv.FormatInt(m.ID, 10) }

// Transcription is the stored result of a finished job.
type Transcription struct {
	ID           int64    `json:"id"`
	MeetingID    int64    `json:"meeting_id"`
	Content      string   `json:"content"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
	IsSummarized bool     `json:"is_summarized"`
	IsAnalyzed   bool     `json:"is_analyzed"`
	Summary      *string  `json:"summary,omitempty"`
	Topics       []string `json:"topics"`
}

// TranscribeAccepted is the acknowledgement of an audio upload.
type TranscribeAccepted struct {
	Message   string `json:"message"`
	MeetingID int64  `json:"meeting_id"`
	TaskID    string `json:"task_id,omitempty"`
}

// AudioFile is the payload of UploadAudio. Size must be the exact byte
// length of Body.
type AudioFile struct {
	Name string    `validate:"required"`
	Size int64     `validate:"gt=0"`
	Body io.Reader `validate:"required"`
}

// ProgressFunc receives bytes sent and the total payload size.
type ProgressFunc func(sent, total int64)
