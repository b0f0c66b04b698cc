package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Note change actions published on the feed.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Event tells subscribers that a note changed. It carries the id only;
// clients fetch the note over HTTP if they need its contents.
type Event struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     int64  `json:"id"`
}

// NoteEvent builds the event for a note mutation, e.g. type "note_updated".
func NoteEvent(action string, id int64) Event {
	return Event{
		Type:   "note_" + action,
		Entity: "note",
		Action: action,
		ID:     id,
	}
}

// Hub keeps the set of connected feed subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	dropped atomic.Int64
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.remove(c)
}

func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	return true
}

// Publish fans an event out to every subscriber without blocking. A
// subscriber whose buffer is full misses the event and is closed with
// StatusPolicyViolation.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", "type", ev.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		// A concurrent Publish may have evicted it already.
		if !h.remove(c) {
			continue
		}
		c.evict()
		h.dropped.Add(1)
		h.logger.Warn("evicting slow feed subscriber", "type", ev.Type, "id", ev.ID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many subscribers were evicted for a full buffer.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
