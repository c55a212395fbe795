package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrHeartbeatReply is returned by Decode for the server's plain-text answer
// to a heartbeat. It is not a data error and callers drop it silently.
var ErrHeartbeatReply = errors.New("heartbeat reply")

// DecodeError describes an inbound message that could not be turned into a
// Notification.
type DecodeError struct {
	Reason string
	Kind   Kind
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode notification: " + e.Reason
	if e.Kind != "" {
		msg += fmt.Sprintf(" (event_type %q)", e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Timestamp layouts accepted from the server. Zone-less values are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Decode parses one raw push message.
func Decode(raw []byte) (Notification, error) {
	trimmed := bytes.TrimSpace(raw)
	if string(trimmed) == "pong" {
		return Notification{}, ErrHeartbeatReply
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Notification{}, &DecodeError{Reason: "invalid json", Err: err}
	}
	return env.Notification(time.Now().UTC())
}

// Notification validates the envelope and converts it. received is used
// when the envelope carries no usable timestamp.
func (e Envelope) Notification(received time.Time) (Notification, error) {
	if e.EventType == "" {
		return Notification{}, &DecodeError{Reason: "missing event_type"}
	}
	if !e.EventType.Valid() {
		return Notification{}, &DecodeError{Reason: "unknown event_type", Kind: e.EventType}
	}

	n := Notification{
		Kind:      e.EventType,
		MeetingID: string(e.MeetingID),
		TaskID:    e.TaskID,
		Timestamp: parseTimestamp(e.Timestamp, received),
		Message:   e.Message,
	}

	switch e.EventType {
	case KindStarted:
		n.Payload = Started{Filename: e.Filename}
	case KindProgress:
		if e.Progress == nil {
			return Notification{}, &DecodeError{Reason: "progress event without progress object", Kind: e.EventType}
		}
		p := Progress{
			Status:  e.Progress.Status,
			Step:    e.Progress.Step,
			Percent: clampPercent(e.Progress.Percentage),
			Message: e.Progress.Message,
			Details: e.Progress.Details,
		}
		if s := e.Progress.EstimatedRemainingSeconds; s != nil && *s >= 0 {
			d := time.Duration(*s * float64(time.Second))
			p.Remaining = &d
		}
		n.Payload = p
	case KindCompleted:
		n.Payload = Completed{
			TranscriptionID: e.TranscriptionID,
			SpeakersCount:   e.SpeakersCount,
			Filename:        e.Filename,
		}
	case KindFailed:
		detail := e.Error
		if detail == "" {
			detail = e.Message
		}
		n.Payload = Failed{Error: detail}
	case KindSystemNotice:
		n.Payload = SystemNotice{}
	}
	return n, nil
}

func parseTimestamp(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
