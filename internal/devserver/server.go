// Package devserver is a self-contained stand-in for the transcription
// backend. It serves the REST and websocket endpoints the client uses and
// simulates server-side processing.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/meetscribe/client/internal/client"
	"github.com/meetscribe/client/internal/progress"
)

const (
	DefaultStepInterval  = time.Second
	DefaultMaxUploadSize = 100 << 20
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Options configures a Server.
type Options struct {
	Token         string
	StepInterval  time.Duration
	FailStep      string
	MaxUploadSize int64
	MaxPeers      int
	// Mirror, when set, receives every event under SubjectPrefix.{meeting id}.
	Mirror        Publisher
	SubjectPrefix string
	Logger        *slog.Logger
}

type Server struct {
	token   string
	maxSize int64
	store   *Store
	hub     *Hub
	sim     *Simulator
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Server {
	if opts.StepInterval <= 0 {
		opts.StepInterval = DefaultStepInterval
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "devserver")
	store := NewStore()
	hub := NewHub(opts.MaxPeers, opts.Logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		token:   opts.Token,
		maxSize: opts.MaxUploadSize,
		store:   store,
		hub:     hub,
		sim: &Simulator{
			hub:      hub,
			store:    store,
			interval: opts.StepInterval,
			failStep: progress.Step(opts.FailStep),
			mirror:   opts.Mirror,
			prefix:   opts.SubjectPrefix,
			log:      opts.Logger.With("component", "simulator"),
		},
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/meetings/", s.handleMeetings)
	mux.HandleFunc("/api/transcriptions/", s.handleTranscriptions)
	mux.HandleFunc("/api/ws/meeting/", s.handleWS)
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// Close stops running simulations and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.sim.Wait()
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/meetings/"), "/")
	switch {
	case rest == "" && r.Method == http.MethodPost:
		s.handleCreateMeeting(w, r)
	case rest != "" && r.Method == http.MethodGet:
		id, ok := parseID(w, rest)
		if !ok {
			return
		}
		m, found := s.store.Meeting(id)
		if !found {
			writeError(w, http.StatusNotFound, "Meeting not found")
			return
		}
		writeJSON(w, http.StatusOK, m)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	var in client.MeetingCreate
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if err := validate.Struct(in); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	m := s.store.CreateMeeting(in)
	s.log.Info("meeting created", "meeting_id", m.ID, "title", m.Title)
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/transcriptions/"), "/")
	switch {
	case rest == "transcribe" && r.Method == http.MethodPost:
		s.handleTranscribe(w, r)
	case rest != "" && rest != "transcribe" && r.Method == http.MethodGet:
		id, ok := parseID(w, rest)
		if !ok {
			return
		}
		t, found := s.store.Transcription(id)
		if !found {
			writeError(w, http.StatusNotFound, "Transcription not found")
			return
		}
		writeJSON(w, http.StatusOK, t)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.URL.Query().Get("meeting_id"))
	if !ok {
		return
	}
	if _, found := s.store.Meeting(id); !found {
		writeError(w, http.StatusNotFound, "Meeting not found")
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}
	var filename string
	var size int64
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		filename = part.FileName()
		size, err = io.Copy(io.Discard, io.LimitReader(part, s.maxSize+1))
		part.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "upload interrupted")
			return
		}
		if size > s.maxSize {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
	}
	if filename == "" {
		writeError(w, http.StatusUnprocessableEntity, "file is required")
		return
	}

	taskID := s.sim.Start(s.ctx, id, filename)
	s.log.Info("transcription started", "meeting_id", id, "file", filename, "size", size, "task_id", taskID)
	writeJSON(w, http.StatusOK, client.TranscribeAccepted{
		Message:   "Transcription started",
		MeetingID: id,
		TaskID:    taskID,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	room, err := url.PathUnescape(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/ws/meeting/"), "/"))
	if err != nil || room == "" {
		http.Error(w, "invalid meeting id", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade error", "error", err)
		return
	}

	p, err := s.hub.Join(room, conn)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.log.Info("websocket client connected", "meeting_id", room, "remote", r.RemoteAddr)

	go func() {
		defer func() {
			s.hub.Leave(p)
			s.log.Info("websocket client disconnected", "meeting_id", room, "remote", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.TrimSpace(string(data)) == "ping" {
				s.hub.Reply(p, []byte("pong"))
			}
		}
	}()
}

func (s *Server) authorize(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.token {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.token
}

// checkOrigin admits non-browser clients and loopback origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError answers in the backend's {"detail": ...} error shape.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

