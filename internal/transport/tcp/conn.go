// Package tcp provides the room listener and the raw TCP transport.
package tcp

import (
	"bufio"
	"context"
	"net"

	"github.com/omochice/room-socket-chat/pkg/protocol"
)

// Conn adapts net.Conn to chat.Conn interface.
//
// A framed Conn carries uvarint length-prefixed payloads. An unframed Conn
// treats every read as one frame, which is what legacy text clients expect.
type Conn struct {
	conn     net.Conn
	reader   *bufio.Reader
	framed   bool
	maxFrame int
}

// NewConn wraps conn. reader may already hold bytes peeked from conn; nil
// reads conn directly. maxFrame bounds framed payloads, 0 uses the protocol
// default.
func NewConn(conn net.Conn, reader *bufio.Reader, framed bool, maxFrame int) *Conn {
	if reader == nil {
		reader = bufio.NewReader(conn)
	}
	return &Conn{conn: conn, reader: reader, framed: framed, maxFrame: maxFrame}
}

// Read implements chat.Conn.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if c.framed {
		return protocol.ReadFrame(c.reader, c.maxFrame)
	}
	buf := make([]byte, protocol.LegacyReadSize)
	n, err := c.reader.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if ctx != nil {
		if deadline, ok := ctx.Deadline(); ok {
			if err := c.conn.SetWriteDeadline(deadline); err != nil {
				return err
			}
		}
	}
	if c.framed {
		data = protocol.AppendFrame(make([]byte, 0, len(data)+4), data)
	}
	_, err := c.conn.Write(data)
	return err
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
