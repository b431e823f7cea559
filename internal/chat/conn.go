// Package chat provides the room membership and broadcast logic shared by
// every transport.
package chat

import "context"

// Conn is one client socket as seen by the Hub. Implementations carry whole
// frames, so the Hub never deals with byte-stream boundaries.
type Conn interface {
	// Read blocks until the next frame arrives. io.EOF means the peer went
	// away cleanly.
	Read(ctx context.Context) ([]byte, error)
	// Write delivers one frame. Calls on one Conn are never concurrent.
	Write(ctx context.Context, data []byte) error
	Close() error
	// RemoteAddr is used in log records.
	RemoteAddr() string
}
