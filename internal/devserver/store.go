package devserver

import (
	"sync"
	"time"

	"github.com/meetscribe/client/internal/client"
)

// serverTime formats t the way the backend does: zone-less ISO-8601 in UTC.
func serverTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}

// Store keeps meetings and transcriptions in memory.
type Store struct {
	mu             sync.RWMutex
	nextMeeting    int64
	nextTranscript int64
	meetings       map[int64]*client.Meeting
	transcriptions map[int64]*client.Transcription
}

func NewStore() *Store {
	return &Store{
		meetings:       make(map[int64]*client.Meeting),
		transcriptions: make(map[int64]*client.Transcription),
	}
}

func (s *Store) CreateMeeting(in client.MeetingCreate) client.Meeting {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMeeting++
	now := serverTime(time.Now())
	participants := append([]string{}, in.Participants...)
	m := &client.Meeting{
		ID:           s.nextMeeting,
		Title:        in.Title,
		Description:  in.Description,
		Date:         in.Date,
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.meetings[m.ID] = m
	return *m
}

func (s *Store) Meeting(id int64) (client.Meeting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meetings[id]
	if !ok {
		return client.Meeting{}, false
	}
	return *m, true
}

// SaveTranscription stores the transcription of a meeting, replacing any
// previous one.
func (s *Store) SaveTranscription(meetingID int64, content string, topics []string) client.Transcription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTranscript++
	now := serverTime(time.Now())
	t := &client.Transcription{
		ID:        s.nextTranscript,
		MeetingID: meetingID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
		Topics:    topics,
	}
	s.transcriptions[meetingID] = t
	if m, ok := s.meetings[meetingID]; ok {
		m.HasTranscription = true
		m.UpdatedAt = now
	}
	return *t
}

func (s *Store) Transcription(meetingID int64) (client.Transcription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transcriptions[meetingID]
	if !ok {
		return client.Transcription{}, false
	}
	return *t, true
}
