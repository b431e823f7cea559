package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultSendQueue is the outbound queue length used when none is configured.
const DefaultSendQueue = 64

// Client represents a connected client with transport-agnostic connection.
//
// Frames reach the socket only through the outbound queue, which is drained
// by a single writer goroutine, so concurrent broadcasts never interleave
// writes on one connection.
type Client struct {
	ID   uuid.UUID
	Conn Conn

	mu       sync.Mutex
	username string
	room     int
	joined   bool
	closed   bool
	outgoing chan []byte
}

// NewClient creates a client for conn with the given username.
func NewClient(conn Conn, username string, queue int) *Client {
	if queue <= 0 {
		queue = DefaultSendQueue
	}
	return &Client{
		ID:       uuid.New(),
		Conn:     conn,
		username: username,
		outgoing: make(chan []byte, queue),
	}
}

// Username returns the current display name.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// Room returns the room the client belongs to and whether it belongs to one.
func (c *Client) Room() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.joined
}

// Send queues data for the writer goroutine without blocking.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.outgoing <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops the outbound queue and closes the connection. Safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.outgoing)
	c.mu.Unlock()
	return c.Conn.Close()
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writeLoop drains the outbound queue until it is closed or a write fails.
func (c *Client) writeLoop(ctx context.Context, onError func(error)) {
	for data := range c.outgoing {
		if err := c.Conn.Write(ctx, data); err != nil {
			onError(err)
			return
		}
	}
}

func (c *Client) setUsername(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.username
	c.username = name
	return old
}

// bind marks the client as a member of room. It fails if the client
// already belongs to a different room.
func (c *Client) bind(room int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joined && c.room != room {
		return false
	}
	c.room = room
	c.joined = true
	return true
}

func (c *Client) unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = 0
	c.joined = false
}
