// Package client implements a chat client for room servers over raw TCP or
// WebSocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/omochice/room-socket-chat/pkg/protocol"
)

// ErrNotConnected is returned when sending without an open connection.
var ErrNotConnected = errors.New("not connected to server")

// DefaultBuffer is the number of received messages buffered for Messages.
const DefaultBuffer = 64

// Options configures a Client.
type Options struct {
	// Address is the room address as host:port.
	Address  string
	Username string
	// Codec defaults to the tagged codec.
	Codec     protocol.Codec
	WebSocket bool
	Buffer    int
	Logger    *slog.Logger
}

// transport moves whole frames between the client and a room server.
type transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Client represents a chat client connected to one room.
type Client struct {
	opts     Options
	codec    protocol.Codec
	logger   *slog.Logger
	messages chan protocol.Message

	mu       sync.RWMutex
	conn     transport
	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Client.
func New(opts Options) *Client {
	if opts.Codec == nil {
		opts.Codec = protocol.Tagged{}
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:     opts,
		codec:    opts.Codec,
		logger:   logger.With("server", opts.Address),
		messages: make(chan protocol.Message, opts.Buffer),
		done:     make(chan struct{}),
	}
}

// Connect dials the room and starts receiving messages. It does not send
// the username; call Join for that. A Client connects at most once.
func (c *Client) Connect(ctx context.Context) error {
	var (
		conn transport
		err  error
	)
	if c.opts.WebSocket {
		conn, err = dialWebSocket(ctx, c.opts.Address, c.codec.Framed())
	} else {
		conn, err = dialTCP(ctx, c.opts.Address, c.codec.Framed())
	}
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receiveMessages(conn)
	return nil
}

// Disconnect closes the connection and waits for the receiver to stop.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Join sends the username handshake.
func (c *Client) Join() error {
	return c.send(protocol.Message{Type: protocol.MessageTypeJoin, Sender: c.opts.Username})
}

// SendMessage sends a chat message to the room.
func (c *Client) SendMessage(content string) error {
	return c.send(protocol.Message{Type: protocol.MessageTypeText, Content: content})
}

// Rename asks the server to change the username.
func (c *Client) Rename(name string) error {
	return c.send(protocol.Message{Type: protocol.MessageTypeRename, Content: name})
}

// Messages returns the channel of received messages. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan protocol.Message {
	return c.messages
}

func (c *Client) send(msg protocol.Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := c.codec.EncodeRequest(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteFrame(data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (c *Client) receiveMessages(conn transport) {
	defer c.wg.Done()
	defer close(c.messages)

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && c.IsConnected() {
				c.logger.Warn("error reading from server", "error", err)
			}
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			conn.Close()
			return
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn("failed to decode message", "error", err)
			continue
		}
		select {
		case c.messages <- msg:
		case <-c.done:
			conn.Close()
			return
		}
	}
}
