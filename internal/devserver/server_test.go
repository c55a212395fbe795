package devserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meetscribe/client/internal/client"
	"github.com/meetscribe/client/internal/notify"
	"github.com/meetscribe/client/internal/progress"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	if opts.StepInterval == 0 {
		opts.StepInterval = 5 * time.Millisecond
	}
	opts.Logger = testLogger
	s := New(opts)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return s, srv
}

func createMeeting(t *testing.T, base string) client.Meeting {
	t.Helper()
	resp, err := http.Post(base+"/api/meetings/", "application/json",
		strings.NewReader(`{"title":"Standup","date":"2025-03-01T10:00:00","participants":["ana","bo"]}`))
	if err != nil {
		t.Fatalf("create meeting: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create meeting status %d", resp.StatusCode)
	}
	var m client.Meeting
	json.NewDecoder(resp.Body).Decode(&m)
	return m
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func dialMeeting(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/meeting/" + room
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNotification(t *testing.T, conn *websocket.Conn) notify.Notification {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	n, err := notify.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return n
}

func TestMeetingRoutes(t *testing.T) {
	_, srv := newTestServer(t, Options{})
	m := createMeeting(t, srv.URL)
	if m.ID != 1 || m.Title != "Standup" || len(m.Participants) != 2 {
		t.Fatalf("meeting = %+v", m)
	}

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/meetings/1", http.StatusOK},
		{http.MethodGet, "/api/meetings/99", http.StatusNotFound},
		{http.MethodGet, "/api/meetings/abc", http.StatusUnprocessableEntity},
		{http.MethodDelete, "/api/meetings/1", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/transcriptions/1", http.StatusNotFound},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestCreateMeetingValidation(t *testing.T) {
	_, srv := newTestServer(t, Options{})
	resp, err := http.Post(srv.URL+"/api/meetings/", "application/json", strings.NewReader(`{"date":"2025-03-01"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestAuthorization(t *testing.T) {
	_, srv := newTestServer(t, Options{Token: "s3cret"})

	resp, err := http.Get(srv.URL + "/api/meetings/1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/meetings/1", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("bearer token: status %d, want 404", resp.StatusCode)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/meeting/1"
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("ws without token: err=%v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=s3cret", nil)
	if err != nil {
		t.Fatalf("ws with token: %v", err)
	}
	conn.Close()
}

func TestTranscribeRejects(t *testing.T) {
	_, srv := newTestServer(t, Options{MaxUploadSize: 8})
	createMeeting(t, srv.URL)

	tests := []struct {
		name  string
		query string
		field string
		data  []byte
		want  int
	}{
		{"unknown meeting", "meeting_id=5", "file", []byte("abc"), http.StatusNotFound},
		{"bad meeting id", "meeting_id=x", "file", []byte("abc"), http.StatusUnprocessableEntity},
		{"missing file", "meeting_id=1", "audio", []byte("abc"), http.StatusUnprocessableEntity},
		{"too large", "meeting_id=1", "file", bytes.Repeat([]byte("a"), 9), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.field, "a.wav", tt.data)
			resp, err := http.Post(srv.URL+"/api/transcriptions/transcribe?"+tt.query, ct, body)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var e struct{ Detail string }
			if json.NewDecoder(resp.Body).Decode(&e); e.Detail == "" {
				t.Error("error response without detail")
			}
		})
	}
}

func TestHeartbeatReply(t *testing.T) {
	_, srv := newTestServer(t, Options{})
	conn := dialMeeting(t, srv, "7")

	if n := readNotification(t, conn); n.Kind != notify.KindSystemNotice || n.Subject() != "7" {
		t.Fatalf("greeting = %+v", n)
	}
	conn.WriteMessage(websocket.TextMessage, []byte("ping"))
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil || string(data) != "pong" {
		t.Fatalf("reply = %q, %v", data, err)
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	p.subjects = append(p.subjects, subject)
	p.mu.Unlock()
	return nil
}

func TestSimulatedJobCompletes(t *testing.T) {
	mirror := &recordingPublisher{}
	s, srv := newTestServer(t, Options{Mirror: mirror, SubjectPrefix: "test.progress"})
	createMeeting(t, srv.URL)
	conn := dialMeeting(t, srv, "1")
	readNotification(t, conn)

	body, ct := multipartBody(t, "file", "standup.wav", []byte("RIFF...."))
	resp, err := http.Post(srv.URL+"/api/transcriptions/transcribe?meeting_id=1", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	var ack client.TranscribeAccepted
	json.NewDecoder(resp.Body).Decode(&ack)
	resp.Body.Close()
	if ack.MeetingID != 1 || ack.TaskID == "" {
		t.Fatalf("ack = %+v", ack)
	}

	var kinds []notify.Kind
	var lastPct float64 = -1
	for {
		n := readNotification(t, conn)
		kinds = append(kinds, n.Kind)
		if n.TaskID != ack.TaskID {
			t.Errorf("task id = %q, want %q", n.TaskID, ack.TaskID)
		}
		if p, ok := n.Progress(); ok {
			if p.Percent <= lastPct && lastPct >= 0 {
				t.Errorf("server progress not increasing: %v after %v", p.Percent, lastPct)
			}
			lastPct = p.Percent
			if p.Remaining == nil {
				t.Error("progress without remaining estimate")
			}
		}
		if n.Kind.Terminal() {
			c, _ := n.Completion()
			if n.Kind != notify.KindCompleted || c.TranscriptionID != 1 || c.Filename != "standup.wav" {
				t.Fatalf("terminal = %+v", n)
			}
			break
		}
	}
	if want := 1 + len(progress.Steps) + 1; len(kinds) != want {
		t.Errorf("got %d events %v, want %d", len(kinds), kinds, want)
	}

	s.sim.Wait()
	tr, ok := s.store.Transcription(1)
	if !ok || !strings.Contains(tr.Content, "SPEAKER_00") {
		t.Errorf("transcription = %+v", tr)
	}
	if m, _ := s.store.Meeting(1); !m.HasTranscription {
		t.Error("meeting not flagged as transcribed")
	}

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	if len(mirror.subjects) != len(kinds) || mirror.subjects[0] != "test.progress.1" {
		t.Errorf("mirrored subjects = %v", mirror.subjects)
	}

	// Late joiners receive the greeting followed by the last event.
	late := dialMeeting(t, srv, "1")
	readNotification(t, late)
	if n := readNotification(t, late); n.Kind != notify.KindCompleted {
		t.Errorf("replayed %v, want completed", n.Kind)
	}
}

func TestSimulatedJobFails(t *testing.T) {
	s, srv := newTestServer(t, Options{FailStep: "diarization"})
	createMeeting(t, srv.URL)
	conn := dialMeeting(t, srv, "1")
	readNotification(t, conn)

	body, ct := multipartBody(t, "file", "a.wav", []byte("x"))
	resp, err := http.Post(srv.URL+"/api/transcriptions/transcribe?meeting_id=1", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	var last notify.Notification
	for !last.Kind.Terminal() {
		last = readNotification(t, conn)
		if p, ok := last.Progress(); ok && p.Step == "diarization" {
			t.Fatal("progress emitted for the failing step")
		}
	}
	f, ok := last.Failure()
	if !ok || !strings.Contains(f.Error, "diarization") {
		t.Fatalf("terminal = %+v", last)
	}
	s.sim.Wait()
	if _, ok := s.store.Transcription(1); ok {
		t.Error("failed job stored a transcription")
	}
}

func TestHubRoomLimit(t *testing.T) {
	s, srv := newTestServer(t, Options{MaxPeers: 1})
	first := dialMeeting(t, srv, "3")
	readNotification(t, first)

	second := dialMeeting(t, srv, "3")
	second.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("second peer err = %v, want policy violation close", err)
	}
	if got := s.hub.PeerCount("3"); got != 1 {
		t.Errorf("PeerCount = %d, want 1", got)
	}
}
