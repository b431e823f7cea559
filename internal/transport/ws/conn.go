// Package ws provides the WebSocket transport for room connections.
//
// WebSocket clients reach a room on the same port as raw TCP clients; the
// room listener hands over connections whose first bytes look like an HTTP
// request.
package ws

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts a server-side WebSocket connection to chat.Conn interface.
// Each WebSocket message carries one frame payload.
type Conn struct {
	conn net.Conn
	rw   io.ReadWriter
	op   ws.OpCode

	writeMu sync.Mutex
	closed  atomic.Bool
}

const closeTimeout = time.Second

type readWriter struct {
	io.Reader
	io.Writer
}

// Accept performs the HTTP upgrade on conn. reader must be the reader that
// already consumed any peeked bytes of conn. Text selects text messages
// instead of binary ones.
func Accept(conn net.Conn, reader *bufio.Reader, text bool) (*Conn, error) {
	rw := readWriter{Reader: reader, Writer: conn}
	if _, err := ws.Upgrade(rw); err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	op := ws.OpBinary
	if text {
		op = ws.OpText
	}
	return &Conn{conn: conn, rw: rw, op: op}, nil
}

// Read implements chat.Conn.
// Control frames are answered internally; a close frame ends the stream.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	rd := &wsutil.Reader{
		Source:         c.rw,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(rd)
	}
}

// handleControl replies to ping and close frames. The reply goes out under
// writeMu so it never lands inside a data frame written by Write.
func (c *Conn) handleControl(hdr ws.Header, r io.Reader) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.ControlHandler{
		Src:                 r,
		Dst:                 c.conn,
		State:               ws.StateServerSide,
		DisableSrcCiphering: true,
	}.Handle(hdr)
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return net.ErrClosed
	}
	return wsutil.WriteServerMessage(c.conn, c.op, data)
}

// Close sends a close frame and closes the connection. The close frame is
// skipped when a write is in flight, since that write may be stuck on a peer
// that stopped reading.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.writeMu.TryLock() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
		_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.writeMu.Unlock()
	}
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
