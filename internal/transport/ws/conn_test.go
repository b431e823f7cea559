package ws_test

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/omochice/room-socket-chat/internal/chat"
	wstransport "github.com/omochice/room-socket-chat/internal/transport/ws"
)

func TestConn_ImplementsInterface(t *testing.T) {
	var _ chat.Conn = (*wstransport.Conn)(nil)
}

// pair upgrades one loopback connection and returns both ends.
func pair(t *testing.T, text bool) (*wstransport.Conn, net.Conn, io.Reader) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	accepted := make(chan *wstransport.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		c, err := wstransport.Accept(conn, bufio.NewReader(conn), text)
		if err != nil {
			t.Errorf("Accept() error = %v", err)
			conn.Close()
			return
		}
		accepted <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	clientConn, br, _, err := ws.Dial(ctx, "ws://"+listener.Addr().String()+"/")
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	var reader io.Reader = clientConn
	if br != nil {
		reader = br
	}

	select {
	case c := <-accepted:
		return c, clientConn, reader
	case <-time.After(2 * time.Second):
		t.Fatal("server side was not accepted")
		return nil, nil, nil
	}
}

type rw struct {
	io.Reader
	io.Writer
}

func TestConn_Read(t *testing.T) {
	server, client, _ := pair(t, false)

	if err := wsutil.WriteClientMessage(client, ws.OpBinary, []byte("test message")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	data, err := server.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "test message" {
		t.Errorf("Read() = %q, want %q", string(data), "test message")
	}
}

func TestConn_Write(t *testing.T) {
	tests := []struct {
		name   string
		text   bool
		wantOp ws.OpCode
	}{
		{"binary", false, ws.OpBinary},
		{"text", true, ws.OpText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client, reader := pair(t, tt.text)

			if err := server.Write(context.Background(), []byte("hello")); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			data, op, err := wsutil.ReadServerData(rw{reader, client})
			if err != nil {
				t.Fatalf("client read error: %v", err)
			}
			if op != tt.wantOp {
				t.Errorf("opcode = %v, want %v", op, tt.wantOp)
			}
			if string(data) != "hello" {
				t.Errorf("client received %q, want %q", string(data), "hello")
			}
		})
	}
}

func TestConn_PingDuringWrites(t *testing.T) {
	server, client, reader := pair(t, false)
	payload := []byte("0123456789abcdef")
	const frames = 2000

	go func() {
		for {
			if _, err := server.Read(context.Background()); err != nil {
				return
			}
		}
	}()
	go func() {
		for i := 0; i < frames; i++ {
			if err := server.Write(context.Background(), payload); err != nil {
				return
			}
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := wsutil.WriteClientMessage(client, ws.OpPing, []byte("PING")); err != nil {
				return
			}
		}
	}()

	client.SetReadDeadline(time.Now().Add(10 * time.Second))
	pongs := 0
	for received := 0; received < frames; {
		hdr, err := ws.ReadHeader(reader)
		if err != nil {
			t.Fatalf("frame %d: read header error = %v", received, err)
		}
		if hdr.Length > int64(len(payload)) {
			t.Fatalf("frame %d: length %d exceeds any frame sent", received, hdr.Length)
		}
		body := make([]byte, hdr.Length)
		if _, err := io.ReadFull(reader, body); err != nil {
			t.Fatalf("frame %d: read payload error = %v", received, err)
		}

		switch hdr.OpCode {
		case ws.OpPong:
			if string(body) != "PING" {
				t.Fatalf("pong payload = %q, want %q", body, "PING")
			}
			pongs++
		case ws.OpBinary:
			if !bytes.Equal(body, payload) {
				t.Fatalf("frame %d payload = %q, want %q", received, body, payload)
			}
			received++
		default:
			t.Fatalf("frame %d: unexpected opcode %v", received, hdr.OpCode)
		}
	}
	if pongs == 0 {
		t.Log("no pong interleaved with the data frames")
	}
}

func TestConn_Close(t *testing.T) {
	server, client, reader := pair(t, false)

	if err := server.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := server.Write(context.Background(), []byte("late")); err == nil {
		t.Error("Write() after Close succeeded")
	}

	if _, _, err := wsutil.ReadServerData(rw{reader, client}); err == nil {
		t.Error("expected error after close, got nil")
	}
}

func TestConn_RemoteAddr(t *testing.T) {
	server, _, _ := pair(t, false)

	if addr := server.RemoteAddr(); addr == "" {
		t.Error("RemoteAddr() returned empty string")
	}
}
