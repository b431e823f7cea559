package client

import (
	"bufio"
	"context"
	"net"

	"github.com/omochice/room-socket-chat/pkg/protocol"
)

// tcpTransport carries frames on a raw TCP connection, either length
// prefixed or one frame per read.
type tcpTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	framed bool
	buf    []byte
}

func dialTCP(ctx context.Context, address string, framed bool) (*tcpTransport, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	t := &tcpTransport{conn: conn, framed: framed}
	if framed {
		t.reader = bufio.NewReader(conn)
	} else {
		t.buf = make([]byte, protocol.LegacyReadSize)
	}
	return t, nil
}

func (t *tcpTransport) ReadFrame() ([]byte, error) {
	if t.framed {
		return protocol.ReadFrame(t.reader, 0)
	}
	n, err := t.conn.Read(t.buf)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	copy(data, t.buf[:n])
	return data, nil
}

func (t *tcpTransport) WriteFrame(data []byte) error {
	if t.framed {
		data = protocol.AppendFrame(nil, data)
	}
	_, err := t.conn.Write(data)
	return err
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}
