package source

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meetscribe/client/internal/client"
	"github.com/meetscribe/client/internal/notify"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestPollSourceDeliversCompletion(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/transcriptions/42" {
			t.Errorf("path = %s", r.URL.Path)
		}
		switch hits.Add(1) {
		case 1:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"detail":"not found"}`)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			json.NewEncoder(w).Encode(client.Transcription{ID: 11, MeetingID: 42, Content: "hello"})
		}
	}))
	defer srv.Close()

	got := make(chan notify.Notification, 4)
	src := PollSource{
		Client:   client.NewHTTPClient(client.Options{BaseURL: srv.URL, Logger: testLogger}),
		Interval: 5 * time.Millisecond,
		Logger:   testLogger,
	}
	sub := src.Subscribe("42", notify.Sink{OnNotification: func(n notify.Notification) { got <- n }})
	defer sub.Unsubscribe()

	select {
	case n := <-got:
		c, ok := n.Completion()
		if !ok || c.TranscriptionID != 11 || n.Subject() != "42" {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no completion")
	}

	time.Sleep(20 * time.Millisecond)
	if h := hits.Load(); h != 3 {
		t.Errorf("polled %d times, want 3 (stops after completion)", h)
	}
}

func TestPollSourceUnsubscribeStopsPolling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := PollSource{
		Client:   client.NewHTTPClient(client.Options{BaseURL: srv.URL, Logger: testLogger}),
		Interval: 2 * time.Millisecond,
		Logger:   testLogger,
	}
	sub := src.Subscribe("42", notify.Sink{OnNotification: func(notify.Notification) {
		t.Error("unexpected notification")
	}})
	time.Sleep(20 * time.Millisecond)
	sub.Unsubscribe()
	sub.Unsubscribe()

	after := hits.Load()
	time.Sleep(20 * time.Millisecond)
	if hits.Load() != after {
		t.Error("polling continued after Unsubscribe")
	}
}

func TestNATSSubject(t *testing.T) {
	tests := []struct{ prefix, want string }{
		{"", "meetscribe.progress.42"},
		{"acme.events", "acme.events.42"},
		{"acme.events.", "acme.events.42"},
	}
	for _, tt := range tests {
		if got := Subject(tt.prefix, "42"); got != tt.want {
			t.Errorf("Subject(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestNATSHandlerDecodesAndGuards(t *testing.T) {
	var mu sync.Mutex
	var got []notify.Notification
	sub := &natsSub{
		sink: notify.Sink{OnNotification: func(n notify.Notification) {
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
		}},
		log: testLogger,
	}

	sub.handle([]byte(`{"event_type":"started","meeting_id":42,"filename":"a.wav"}`))
	sub.handle([]byte(`garbage`))
	sub.handle([]byte(`pong`))
	sub.handle([]byte(`{"event_type":"progress","meeting_id":42,"progress":{"step":"diarization","progress_percentage":60}}`))
	sub.Unsubscribe()
	sub.Unsubscribe()
	sub.handle([]byte(`{"event_type":"completed","meeting_id":42}`))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivered %d notifications, want 2", len(got))
	}
	if got[0].Kind != notify.KindStarted || got[1].Kind != notify.KindProgress {
		t.Errorf("kinds = %v, %v", got[0].Kind, got[1].Kind)
	}
}

func TestNATSSourceWithoutConnection(t *testing.T) {
	var failed error
	sub := NATSSource{Logger: testLogger}.Subscribe("42", notify.Sink{OnError: func(err error) { failed = err }})
	if !errors.Is(failed, notify.ErrConnectionLost) {
		t.Fatalf("err = %v, want ErrConnectionLost", failed)
	}
	sub.Unsubscribe()
}
