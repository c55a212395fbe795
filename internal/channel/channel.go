// Package channel keeps a push-notification websocket open for one subject
// at a time, reconnecting with exponential backoff when it drops.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meetscribe/client/internal/notify"
)

const (
	DefaultBaseDelay         = 1 * time.Second
	DefaultMaxAttempts       = 5
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// State is the lifecycle state of a Conn.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Config controls dialing and reconnection.
type Config struct {
	// BaseURL is the websocket API root, e.g. "ws://localhost:8000/api".
	BaseURL          string
	Token            string
	BaseDelay        time.Duration
	MaxAttempts      int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// HandshakeError reports a failed connection attempt. It is not terminal;
// the Conn keeps retrying until its attempts run out.
type HandshakeError struct {
	Subject string
	Attempt int
	Status  int
	Err     error
}

func (e *HandshakeError) Error() string {
	msg := fmt.Sprintf("channel %s: handshake failed (attempt %d)", e.Subject, e.Attempt)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status %d", e.Status)
	}
	return msg + ": " + e.Err.Error()
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Channel opens Conns against one backend.
type Channel struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger

	// wait blocks for a reconnect delay. Replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// New creates a Channel. Zero config fields take the package defaults.
func New(cfg Config, logger *slog.Logger) *Channel {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		log:    logger.With("component", "channel"),
		wait:   sleepCtx,
	}
}

// URL returns the websocket endpoint for subject.
func (c *Channel) URL(subject string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/ws/meeting/" + url.PathEscape(subject)
}

// Subscribe opens a connection scoped to subject and returns its handle
// immediately. Handshake failures are reported asynchronously to the sink's
// error callback.
func (c *Channel) Subscribe(subject string, sink notify.Sink) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		ch:            c,
		subject:       subject,
		log:           c.log.With("subject", subject),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		state:         StateConnecting,
		msgHandlers:   make(map[int]func(notify.Notification)),
		errHandlers:   make(map[int]func(error)),
		stateHandlers: make(map[int]func(State)),
	}
	if sink.OnNotification != nil {
		conn.OnMessage(sink.OnNotification)
	}
	if sink.OnError != nil {
		conn.OnError(sink.OnError)
	}
	go conn.run()
	return conn
}

func (c *Channel) header() http.Header {
	h := http.Header{}
	if c.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	return h
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
