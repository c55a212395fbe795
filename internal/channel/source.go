package channel

import (
	"time"

	"github.com/meetscribe/client/internal/notify"
)

// Source adapts a Channel to notify.Source, keeping each subscription alive
// with a Keeper.
type Source struct {
	Channel           *Channel
	HeartbeatInterval time.Duration
	// OnState, when set, observes every subscription's lifecycle. It is
	// called once with the current state right after subscribing.
	OnState func(State)
}

// Subscribe implements notify.Source.
func (s Source) Subscribe(subject string, sink notify.Sink) notify.Subscription {
	conn := s.Channel.Subscribe(subject, sink)
	sub := &subscription{conn: conn, keeper: StartKeeper(conn, s.HeartbeatInterval)}
	if s.OnState != nil {
		sub.remove = conn.OnStateChange(s.OnState)
		s.OnState(conn.State())
	}
	return sub
}

type subscription struct {
	conn   *Conn
	keeper *Keeper
	remove func()
}

func (s *subscription) Unsubscribe() {
	s.keeper.Stop()
	s.conn.Unsubscribe()
	if s.remove != nil {
		s.remove()
	}
}
