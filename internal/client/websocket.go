package client

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 5 * time.Second
	closeTimeout     = time.Second
)

// wsTransport carries one frame per WebSocket message. Tagged frames travel
// as binary messages and legacy frames as text messages.
type wsTransport struct {
	conn        *websocket.Conn
	messageType int
}

func dialWebSocket(ctx context.Context, address string, framed bool) (*wsTransport, error) {
	url := address
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + url + "/"
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	messageType := websocket.TextMessage
	if framed {
		messageType = websocket.BinaryMessage
	}
	return &wsTransport{conn: conn, messageType: messageType}, nil
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteFrame(data []byte) error {
	return t.conn.WriteMessage(t.messageType, data)
}

func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	return t.conn.Close()
}
