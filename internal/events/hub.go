// Package events streams enrolment lifecycle events to connected admin
// clients over WebSocket.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/openlms/tokenenrol/internal/enrol"
)

// Hub fans enrolment events out to every connected client. It satisfies
// enrol.EventPublisher so the gateway and reconciliation engine can publish
// without knowing about WebSocket.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Publish broadcasts the event to all connected clients. A client whose
// buffer is full misses the event rather than blocking the publisher.
func (h *Hub) Publish(ev enrol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
