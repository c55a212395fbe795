package devserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meetscribe/client/internal/notify"
)

const (
	peerBuffer   = 64
	writeTimeout = 10 * time.Second
)

// ErrRoomFull is returned by Join when a meeting has reached its peer limit.
var ErrRoomFull = errors.New("too many connections for meeting")

type peer struct {
	conn *websocket.Conn
	hub  *Hub
	room string
	send chan []byte
}

func (p *peer) writePump() {
	defer p.conn.Close()
	for msg := range p.send {
		p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			p.hub.Leave(p)
			return
		}
	}
}

// Hub fans events out to the websocket peers of each meeting. The most
// recent event of a room is replayed to peers that join late.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*peer]bool
	last     map[string][]byte
	maxPeers int
	log      *slog.Logger
}

// NewHub creates a Hub. maxPeers <= 0 means unlimited.
func NewHub(maxPeers int, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:    make(map[string]map[*peer]bool),
		last:     make(map[string][]byte),
		maxPeers: maxPeers,
		log:      logger.With("component", "hub"),
	}
}

// Join registers conn in room and greets it.
func (h *Hub) Join(room string, conn *websocket.Conn) (*peer, error) {
	p := &peer{conn: conn, hub: h, room: room, send: make(chan []byte, peerBuffer)}

	greeting, _ := json.Marshal(notify.Envelope{
		EventType: notify.KindSystemNotice,
		MeetingID: notify.ID(room),
		Timestamp: serverTime(time.Now()),
		Message:   "Connected to transcription updates",
	})

	h.mu.Lock()
	if h.maxPeers > 0 && len(h.rooms[room]) >= h.maxPeers {
		h.mu.Unlock()
		return nil, ErrRoomFull
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*peer]bool)
	}
	h.rooms[room][p] = true
	p.send <- greeting
	if last := h.last[room]; last != nil {
		p.send <- last
	}
	h.mu.Unlock()

	go p.writePump()
	h.log.Debug("peer joined", "meeting_id", room)
	return p, nil
}

// Leave removes p and stops its write pump. It is idempotent.
func (h *Hub) Leave(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.rooms[p.room]
	if !peers[p] {
		return
	}
	delete(peers, p)
	close(p.send)
	if len(peers) == 0 {
		delete(h.rooms, p.room)
	}
	h.log.Debug("peer left", "meeting_id", p.room)
}

// Reply queues a frame for p alone.
func (h *Hub) Reply(p *peer, data []byte) {
	h.mu.RLock()
	ok := h.rooms[p.room][p]
	if ok {
		select {
		case p.send <- data:
		default:
			ok = false
		}
	}
	h.mu.RUnlock()
	if !ok {
		h.Leave(p)
	}
}

// Publish sends env to every peer of room. Peers that cannot keep up are
// disconnected.
func (h *Hub) Publish(room string, env notify.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.last[room] = data
	var slow []*peer
	for p := range h.rooms[room] {
		select {
		case p.send <- data:
		default:
			slow = append(slow, p)
		}
	}
	h.mu.Unlock()

	for _, p := range slow {
		h.log.Warn("peer too slow, disconnecting", "meeting_id", room)
		h.Leave(p)
	}
	return nil
}

// PeerCount returns the number of peers in room.
func (h *Hub) PeerCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
