package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ew384/automaton-core/internal/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	clientSendSize = 32
)

// Client wraps one WebSocket connection: a read pump that drops inbound
// frames not currently needed by this server (clients are pure event
// consumers) and a write pump that serializes outbound sends plus
// keepalive pings onto the single connection gorilla/websocket allows one
// writer on at a time.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan bus.Event

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn with a fresh randomly-generated client ID.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{id: uuid.NewString(), conn: conn, send: make(chan bus.Event, clientSendSize)}
}

// SendEvent enqueues event for delivery, dropping it if the client's send
// buffer is full rather than blocking the broadcaster on a slow reader.
func (c *Client) SendEvent(event bus.Event) {
	select {
	case c.send <- event:
	default:
		slog.Warn("gateway: client send buffer full, dropping event", "client_id", c.id, "event", event.Name)
	}
}

// Close closes the underlying connection exactly once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}

// Run drives both pumps until ctx is cancelled or the connection dies.
func (c *Client) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.readPump()
	}()

	c.writePump(ctx)
	<-done
}

// readPump discards inbound frames (this server has no client->server RPC
// surface over the socket) but must keep reading to process pong frames
// and detect disconnects.
func (c *Client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
