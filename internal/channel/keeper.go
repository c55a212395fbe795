package channel

import (
	"sync"
	"time"
)

// Keeper sends periodic heartbeats on a Conn while it is open. It pauses
// while the Conn reconnects and exits when the Conn terminates.
type Keeper struct {
	conn     *Conn
	interval time.Duration

	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	remove func()

	mu    sync.Mutex
	beats int
}

// StartKeeper starts heartbeats on conn every interval. A non-positive
// interval selects DefaultHeartbeatInterval.
func StartKeeper(conn *Conn, interval time.Duration) *Keeper {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	k := &Keeper{
		conn:     conn,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	states := make(chan struct{}, 1)
	k.remove = conn.OnStateChange(func(State) {
		select {
		case states <- struct{}{}:
		default:
		}
	})
	go k.loop(states)
	return k
}

// Stop halts heartbeats. It is idempotent.
func (k *Keeper) Stop() {
	k.once.Do(func() {
		close(k.stop)
		k.remove()
	})
	<-k.done
}

// Beats returns the number of heartbeats sent.
func (k *Keeper) Beats() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.beats
}

func (k *Keeper) loop(states <-chan struct{}) {
	defer close(k.done)

	var ticker *time.Ticker
	var tick <-chan time.Time
	resume := func() {
		if ticker == nil {
			ticker = time.NewTicker(k.interval)
			tick = ticker.C
		}
	}
	pause := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer pause()

	if k.conn.State() == StateOpen {
		resume()
	}

	for {
		select {
		case <-k.stop:
			return
		case <-k.conn.Done():
			return
		case <-states:
			// Transitions coalesce into one wake-up; the Conn's current
			// state decides.
			switch k.conn.State() {
			case StateOpen:
				resume()
			case StateTerminated:
				return
			default:
				pause()
			}
		case <-tick:
			if k.conn.State() != StateOpen {
				pause()
				continue
			}
			if err := k.conn.Heartbeat(); err != nil {
				k.conn.log.Warn("heartbeat failed", "error", err)
				continue
			}
			k.mu.Lock()
			k.beats++
			k.mu.Unlock()
		}
	}
}
