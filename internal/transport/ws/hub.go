package ws

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kushgupta-hiver/doodlecorpse/internal/match"
)

var (
	ErrNotConnected = errors.New("participant not connected")
	ErrSlowConsumer = errors.New("participant send queue full")
)

// Hub routes outgoing messages to live connections by participant id. It is
// the match.Sender for every room.
type Hub struct {
	log   zerolog.Logger
	mu    sync.RWMutex
	conns map[string]*conn
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{log: log, conns: make(map[string]*conn)}
}

var _ match.Sender = (*Hub)(nil)

// Send queues msg without blocking. A participant whose queue is full is
// disconnected.
func (h *Hub) Send(to string, msg match.Outgoing) error {
	h.mu.RLock()
	c, ok := h.conns[to]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	select {
	case <-c.closed:
		return ErrNotConnected
	default:
	}
	select {
	case c.out <- msg:
		return nil
	default:
		h.log.Warn().Str("player", to).Msg("send queue full, disconnecting")
		c.shutdown("too slow")
		return ErrSlowConsumer
	}
}

func (h *Hub) Drop(to, reason string) {
	h.mu.RLock()
	c, ok := h.conns[to]
	h.mu.RUnlock()
	if ok {
		c.shutdown(reason)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll disconnects everyone, for shutdown.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.shutdown(reason)
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}
