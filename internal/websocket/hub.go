package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/loyaltyportal/internal/dashboard"
)

// Message is a notification pushed to the browsers of one portal session.
type Message struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, data any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		Data:   data,
	}
}

// Hub tracks connected clients per portal session. A session may have
// several tabs open.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Client]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*Client]struct{}),
		logger:   logger,
	}
}

// Register adds a client to its session's set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.sessions[c.session]
	if !ok {
		set = make(map[*Client]struct{})
		h.sessions[c.session] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[c.session]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.sessions, c.session)
	}
}

// SendTo delivers msg to every client of one session and returns how many
// clients accepted it.
func (h *Hub) SendTo(session string, msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "error", err, "type", msg.Type)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.sessions[session] {
		select {
		case c.send <- data:
			n++
		default:
			// Client buffer full, drop rather than block the render.
		}
	}
	return n
}

// Render pushes a committed dashboard snapshot to the session's browsers.
func (h *Hub) Render(session string, snap dashboard.Snapshot) {
	h.SendTo(session, NewMessage("dashboard", "rendered", snap))
}

// ClientCount returns the number of connected clients across all sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.sessions {
		n += len(set)
	}
	return n
}
