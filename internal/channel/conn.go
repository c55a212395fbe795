package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meetscribe/client/internal/notify"
)

// Conn is one logical subscription. It owns at most one socket at a time;
// a new dial starts only after the previous socket is fully closed. All
// callbacks run on the Conn's own goroutine, in arrival order.
type Conn struct {
	ch      *Channel
	subject string
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	state         State
	attempts      int
	delay         time.Duration
	ws            *websocket.Conn
	stopped       bool
	msgHandlers   map[int]func(notify.Notification)
	errHandlers   map[int]func(error)
	stateHandlers map[int]func(State)
	nextID        int

	writeMu sync.Mutex // serialises data frame writes (heartbeats)
}

// Subject returns the subject this Conn is scoped to.
func (c *Conn) Subject() string { return c.subject }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the reconnect attempt counter.
func (c *Conn) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Delay returns the most recently scheduled reconnect delay.
func (c *Conn) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// Done is closed once the Conn has terminated.
func (c *Conn) Done() <-chan struct{} { return c.done }

// OnMessage registers fn for every decoded notification.
func (c *Conn) OnMessage(fn func(notify.Notification)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.msgHandlers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.msgHandlers, id)
		c.mu.Unlock()
	}
}

// OnError registers fn for handshake errors and the terminal
// notify.ErrConnectionLost error.
func (c *Conn) OnError(fn func(error)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.errHandlers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.errHandlers, id)
		c.mu.Unlock()
	}
}

// OnStateChange registers fn for lifecycle transitions.
func (c *Conn) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.stateHandlers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.stateHandlers, id)
		c.mu.Unlock()
	}
}

// Unsubscribe closes the socket and cancels any pending reconnect. It is
// idempotent, and no callback fires after it returns. It must not be called
// from inside one of the Conn's own callbacks.
func (c *Conn) Unsubscribe() {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		c.cancel()
		if c.ws != nil {
			deadline := time.Now().Add(c.ch.cfg.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			c.ws.Close()
		}
		c.log.Debug("channel unsubscribed")
	}
	c.mu.Unlock()
	<-c.done
}

// Heartbeat sends a liveness probe. It is a no-op unless the Conn is open.
// A failed write closes the socket so the reconnect loop takes over.
func (c *Conn) Heartbeat() error {
	c.mu.Lock()
	ws := c.ws
	open := c.state == StateOpen && !c.stopped
	c.mu.Unlock()
	if !open || ws == nil {
		return nil
	}

	c.writeMu.Lock()
	ws.SetWriteDeadline(time.Now().Add(c.ch.cfg.WriteTimeout))
	err := ws.WriteMessage(websocket.TextMessage, []byte("ping"))
	c.writeMu.Unlock()
	if err != nil {
		ws.Close()
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (c *Conn) run() {
	defer close(c.done)
	defer c.setState(StateTerminated)

	for {
		ws, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("channel handshake failed", "attempt", c.Attempts(), "error", err)
			c.emitError(err)
		} else if c.opened(ws) {
			err = c.read(ws)
			c.closed(ws)
			if c.ctx.Err() != nil {
				return
			}
			c.log.Info("channel closed unexpectedly", "error", err)
		} else {
			return
		}

		delay, ok := c.nextAttempt()
		if !ok {
			lost := fmt.Errorf("%w: subject %s after %d reconnect attempts",
				notify.ErrConnectionLost, c.subject, c.ch.cfg.MaxAttempts)
			c.log.Error("channel giving up", "attempts", c.ch.cfg.MaxAttempts)
			c.emitError(lost)
			return
		}
		c.setState(StateReconnecting)
		c.log.Info("channel reconnecting", "attempt", c.Attempts(), "delay", delay)
		if err := c.ch.wait(c.ctx, delay); err != nil {
			return
		}
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.ch.cfg.HandshakeTimeout)
	defer cancel()

	ws, resp, err := c.ch.dialer.DialContext(ctx, c.ch.URL(c.subject), c.ch.header())
	if err != nil {
		he := &HandshakeError{Subject: c.subject, Attempt: c.Attempts(), Err: err}
		if resp != nil {
			he.Status = resp.StatusCode
		}
		return nil, he
	}
	return ws, nil
}

// opened installs ws as the live socket. It reports false, closing ws, when
// the Conn was unsubscribed while dialing.
func (c *Conn) opened(ws *websocket.Conn) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		ws.Close()
		return false
	}
	c.ws = ws
	c.attempts = 0
	c.delay = 0
	c.mu.Unlock()

	c.log.Info("channel open")
	c.setState(StateOpen)
	return true
}

func (c *Conn) closed(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	ws.Close()
	c.setState(StateClosed)
}

func (c *Conn) read(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		n, err := notify.Decode(data)
		if errors.Is(err, notify.ErrHeartbeatReply) {
			continue
		}
		if err != nil {
			c.log.Warn("dropping malformed notification", "error", err)
			continue
		}
		c.emitMessage(n)
	}
}

// nextAttempt advances the attempt counter and returns the backoff delay,
// or false when attempts are exhausted.
func (c *Conn) nextAttempt() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempts >= c.ch.cfg.MaxAttempts {
		return 0, false
	}
	c.attempts++
	c.delay = c.ch.cfg.BaseDelay << (c.attempts - 1)
	return c.delay, true
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	if c.stopped {
		c.mu.Unlock()
		return
	}
	fns := make([]func(State), 0, len(c.stateHandlers))
	for _, fn := range c.stateHandlers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (c *Conn) emitMessage(n notify.Notification) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	fns := make([]func(notify.Notification), 0, len(c.msgHandlers))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.msgHandlers[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}

func (c *Conn) emitError(err error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	fns := make([]func(error), 0, len(c.errHandlers))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.errHandlers[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}
