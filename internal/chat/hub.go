package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/omochice/room-socket-chat/pkg/protocol"
	"golang.org/x/time/rate"
)

// Hub runs the handshake and receive loop for every connection and fans
// frames out to room members. All room listeners share a single Hub.
type Hub struct {
	registry  *Registry
	codec     protocol.Codec
	logger    *slog.Logger
	sendQueue int
	rateBurst int
	rateEvery time.Duration
}

// Option configures a Hub.
type Option func(*Hub)

// WithSendQueue sets the per-client outbound queue length.
func WithSendQueue(n int) Option {
	return func(h *Hub) { h.sendQueue = n }
}

// WithRateLimit allows burst chat frames per interval on each connection.
// A burst of zero disables the limit.
func WithRateLimit(burst int, interval time.Duration) Option {
	return func(h *Hub) {
		h.rateBurst = burst
		h.rateEvery = interval
	}
}

// NewHub creates a Hub over registry that speaks codec.
func NewHub(registry *Registry, codec protocol.Codec, logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		registry:  registry,
		codec:     codec,
		logger:    logger,
		sendQueue: DefaultSendQueue,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the registry the hub delivers through.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Codec returns the wire codec of the hub.
func (h *Hub) Codec() protocol.Codec {
	return h.codec
}

// Broadcast queues msg for every current member of room and returns how many
// members it was queued for. A member that cannot take the frame is removed
// and closed; delivery to the others continues.
func (h *Hub) Broadcast(room int, msg protocol.Message) int {
	data, err := h.codec.Encode(msg)
	if err != nil {
		h.logger.Error("failed to encode broadcast", "room", room, "type", msg.Type, "error", err)
		return 0
	}

	delivered := 0
	h.registry.ForEach(room, func(c *Client) {
		if err := c.Send(data); err != nil {
			h.drop(room, c, fmt.Errorf("failed to queue frame: %w", err))
			return
		}
		delivered++
	})
	return delivered
}

// CloseRoom removes room from the registry and closes every member.
func (h *Hub) CloseRoom(room int) int {
	clients := h.registry.Close(room)
	for _, c := range clients {
		c.Close()
	}
	return len(clients)
}

// HandleClient performs the username handshake on conn, registers the client
// in room and relays its frames until the connection fails. It returns once
// the connection is closed and its writer has stopped.
func (h *Hub) HandleClient(ctx context.Context, room int, conn Conn) {
	log := h.logger.With("room", room, "remote", conn.RemoteAddr())

	client, err := h.handshake(ctx, room, conn)
	if err != nil {
		log.Warn("handshake failed", "error", err)
		conn.Close()
		return
	}
	log = log.With("client", client.ID.String())
	log.Info("user joined", "user", client.Username())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		client.writeLoop(ctx, func(err error) {
			h.drop(room, client, fmt.Errorf("failed to write frame: %w", err))
		})
	}()

	h.Broadcast(room, protocol.Notice(client.Username()+" joined the room"))

	err = h.receive(ctx, room, client, log)
	h.drop(room, client, err)
	<-writerDone
}

func (h *Hub) handshake(ctx context.Context, room int, conn Conn) (*Client, error) {
	data, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read username: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyUsername
	}

	msg, err := h.codec.DecodeRequest(data, true)
	if err != nil {
		return nil, fmt.Errorf("failed to decode username: %w", err)
	}
	name := strings.TrimSpace(msg.Sender)
	if name == "" {
		return nil, ErrEmptyUsername
	}
	if err := h.codec.ValidateName(name); err != nil {
		return nil, err
	}

	client := NewClient(conn, name, h.sendQueue)
	if err := h.registry.Add(room, client); err != nil {
		if errors.Is(err, ErrRoomExpired) {
			h.notify(ctx, conn, ErrRoomExpired.Error())
		}
		return nil, err
	}
	return client, nil
}

// notify writes a notice straight to a connection that has no writer
// goroutine yet.
func (h *Hub) notify(ctx context.Context, conn Conn, text string) {
	data, err := h.codec.Encode(protocol.Notice(text))
	if err != nil {
		return
	}
	if err := conn.Write(ctx, data); err != nil {
		h.logger.Debug("failed to send notice", "remote", conn.RemoteAddr(), "error", err)
	}
}

// refillRate spreads burst tokens over interval. It is never rate.Inf for a
// positive interval, however short.
func refillRate(burst int, interval time.Duration) rate.Limit {
	return rate.Limit(float64(burst) / interval.Seconds())
}

func (h *Hub) receive(ctx context.Context, room int, client *Client, log *slog.Logger) error {
	var limiter *rate.Limiter
	if h.rateBurst > 0 && h.rateEvery > 0 {
		limiter = rate.NewLimiter(refillRate(h.rateBurst, h.rateEvery), h.rateBurst)
	}

	for {
		data, err := client.Conn.Read(ctx)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return io.EOF
		}

		msg, err := h.codec.DecodeRequest(data, false)
		if err != nil {
			return fmt.Errorf("failed to decode frame: %w", err)
		}

		switch msg.Type {
		case protocol.MessageTypeRename:
			if err := h.rename(room, client, msg.Content, log); err != nil {
				return err
			}
		case protocol.MessageTypeText:
			if limiter != nil && !limiter.Allow() {
				log.Warn("rate limit exceeded; discarding message", "burst", h.rateBurst, "interval", h.rateEvery)
				continue
			}
			sender := client.Username()
			log.Debug("message received", "user", sender, "bytes", len(msg.Content))
			h.Broadcast(room, protocol.Chat(sender, msg.Content))
		default:
			log.Debug("ignoring frame", "type", msg.Type)
		}
	}
}

// rename applies a username change. An unusable name is answered privately
// and leaves the membership untouched.
func (h *Hub) rename(room int, client *Client, name string, log *slog.Logger) error {
	name = strings.TrimSpace(name)
	if err := h.codec.ValidateName(name); err != nil {
		log.Info("rename rejected", "user", client.Username(), "error", err)
		if data, encErr := h.codec.Encode(protocol.Notice(err.Error())); encErr == nil {
			if sendErr := client.Send(data); sendErr != nil {
				h.drop(room, client, sendErr)
			}
		}
		return nil
	}

	old, err := h.registry.Rename(room, client, name)
	if err != nil {
		return fmt.Errorf("failed to rename %q: %w", client.Username(), err)
	}
	log.Info("user renamed", "old", old, "new", name)
	h.Broadcast(room, protocol.Rename(old, name))
	return nil
}

// drop removes client from room and closes it. It is safe to call from the
// reader, the writer and any broadcaster at once.
func (h *Hub) drop(room int, client *Client, reason error) {
	if h.registry.Remove(room, client) {
		attrs := []any{"room", room, "client", client.ID.String(), "user", client.Username()}
		if reason == nil || errors.Is(reason, io.EOF) {
			h.logger.Info("user left", attrs...)
		} else {
			h.logger.Info("user dropped", append(attrs, "error", reason)...)
		}
	}
	client.Close()
}
