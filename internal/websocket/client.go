package websocket

import (
	"context"
	"encoding/json"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/loyaltyportal/internal/dashboard"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
)

// SnapshotFunc returns the last committed dashboard of a portal session.
type SnapshotFunc func(session string) (dashboard.Snapshot, bool)

// Client is one browser tab of a portal session.
type Client struct {
	hub      *Hub
	session  string
	conn     *ws.Conn
	send     chan []byte
	snapshot SnapshotFunc
}

// NewClient creates a Client for one portal session. snapshot may be nil.
func NewClient(hub *Hub, session string, conn *ws.Conn, snapshot SnapshotFunc) *Client {
	return &Client{
		hub:      hub,
		session:  session,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		snapshot: snapshot,
	}
}

// Run registers the client, replays the current dashboard, starts the write
// pump, and runs the read pump. It blocks until the connection is closed,
// then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	c.replay()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// replay queues the session's current dashboard for this client only. A
// session that has no dashboard yet sends nothing.
func (c *Client) replay() bool {
	if c.snapshot == nil {
		return false
	}
	snap, ok := c.snapshot(c.session)
	if !ok {
		return false
	}
	data, err := json.Marshal(NewMessage("dashboard", "rendered", snap))
	if err != nil {
		c.hub.logger.Error("marshal snapshot", "error", err)
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readPump answers refresh requests and ignores anything else.
func (c *Client) readPump(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != ws.MessageText {
			continue
		}
		var msg Message
		if json.Unmarshal(data, &msg) == nil && msg.Type == "refresh" {
			c.replay()
		}
	}
}

// writePump drains the send channel and pings periodically.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, ws.MessageText, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
