package source

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meetscribe/client/internal/notify"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the NATS subject prefix progress events are
// mirrored under: {prefix}.{meeting id}.
const DefaultSubjectPrefix = "meetscribe.progress"

// Subject returns the NATS subject carrying events for meetingID.
func Subject(prefix, meetingID string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return strings.TrimSuffix(prefix, ".") + "." + meetingID
}

// Connect dials NATS with the reconnect policy used by every component.
func Connect(url string, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NATSSource receives the same event envelopes as the websocket channel,
// mirrored by the backend onto NATS.
type NATSSource struct {
	Conn   *nats.Conn
	Prefix string
	Logger *slog.Logger
}

// Subscribe implements notify.Source. A failed NATS subscription is
// reported to the sink as a terminal error for this source.
func (s NATSSource) Subscribe(subject string, sink notify.Sink) notify.Subscription {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sub := &natsSub{
		sink: sink,
		log:  logger.With("component", "nats_source", "subject", subject),
	}

	if s.Conn == nil {
		sink.Fail(fmt.Errorf("%w: nats source has no connection", notify.ErrConnectionLost))
		return sub
	}
	ns, err := s.Conn.Subscribe(Subject(s.Prefix, subject), func(msg *nats.Msg) {
		sub.handle(msg.Data)
	})
	if err != nil {
		sub.log.Warn("nats subscribe failed", "error", err)
		sink.Fail(fmt.Errorf("%w: nats subscribe: %v", notify.ErrConnectionLost, err))
		return sub
	}
	sub.ns = ns
	return sub
}

type natsSub struct {
	sink  notify.Sink
	log   *slog.Logger
	ns    *nats.Subscription
	guard stopGuard
	once  sync.Once
}

func (s *natsSub) handle(data []byte) {
	n, err := notify.Decode(data)
	if errors.Is(err, notify.ErrHeartbeatReply) {
		return
	}
	if err != nil {
		s.log.Warn("dropping malformed notification", "error", err)
		return
	}
	s.guard.do(func() { s.sink.Deliver(n) })
}

func (s *natsSub) Unsubscribe() {
	s.once.Do(func() {
		if s.ns != nil {
			if err := s.ns.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				s.log.Debug("nats unsubscribe", "error", err)
			}
		}
		s.guard.stop()
	})
}

var _ notify.Source = NATSSource{}

// stopGuard makes sure no sink callback runs after Unsubscribe returns
// for sources whose transport cannot wait for in-flight handlers.
type stopGuard struct {
	mu      sync.Mutex
	stopped bool
}

// do runs fn unless the guard is stopped.
func (g *stopGuard) do(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.stopped {
		fn()
	}
}

func (g *stopGuard) stop() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()
}
