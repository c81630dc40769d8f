// Package events fans out live notifications to monitor subscribers.
// Publishing never blocks; slow subscribers lose events instead of
// stalling game handling.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	KindGameCreated  = "game_created"
	KindMovePlayed   = "move_played"
	KindGameFinished = "game_finished"
	KindUserActivity = "user_activity"
	KindSystemAlert  = "system_alert"
	KindStatsUpdate  = "stats_update"
)

// Event is one monitor notification. Payload is JSON-friendly.
type Event struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Hub keeps one bounded buffer per subscriber.
type Hub struct {
	mu      sync.Mutex
	subs    map[int64]chan Event
	nextSub int64
	buffer  int
	closed  bool
	logger  *zap.Logger

	dropped uint64
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[int64]chan Event),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe returns a receive channel and a cancel func. The channel is
// closed by cancel or by Close.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	h.nextSub++
	id := h.nextSub
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers evt to every subscriber whose buffer has room.
func (h *Hub) Publish(kind string, payload map[string]any) {
	evt := Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		At:      time.Now().UTC(),
		Payload: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.dropped++
			h.logger.Warn("event dropped for slow subscriber",
				zap.Int64("subscriber", id),
				zap.String("kind", kind),
				zap.Uint64("total_dropped", h.dropped))
		}
	}
}

// Dropped reports how many events were discarded since start.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close closes every subscriber channel. Further publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
