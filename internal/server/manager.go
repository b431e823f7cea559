// Package server starts and stops room listeners on behalf of the process
// that owns them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/omochice/room-socket-chat/internal/chat"
	"github.com/omochice/room-socket-chat/internal/transport/tcp"
)

var (
	// ErrRoomExists is returned when the manager already serves the port.
	ErrRoomExists = errors.New("room already running")
	// ErrRoomNotFound is returned when the manager does not serve the port.
	ErrRoomNotFound = errors.New("room not running")
	// ErrShutdown is returned once Shutdown has been called.
	ErrShutdown = errors.New("manager is shut down")
)

// DefaultBasePort is the first port CreateRoom probes.
const DefaultBasePort = 5000

// Config holds the listener settings shared by every room of a Manager.
type Config struct {
	Host         string
	BasePort     int
	WebSocket    bool
	MaxFrameSize int
	// BindRetries is how many more ports CreateRoom tries after a bind
	// failure on an allocated port.
	BindRetries int
	Logger      *slog.Logger
}

// RoomInfo describes a running room.
type RoomInfo struct {
	Port      int
	Members   int
	Usernames []string
	// Expires is the admission deadline, zero when the room never expires.
	Expires time.Time
}

// RoomOption configures a single room.
type RoomOption func(*roomOptions)

type roomOptions struct {
	expires time.Time
}

// WithExpiry stops admitting new clients to the room at deadline. Clients
// already in the room stay connected until the room is stopped.
func WithExpiry(deadline time.Time) RoomOption {
	return func(o *roomOptions) { o.expires = deadline }
}

// Manager runs one tcp.Server per room port over a shared Hub.
type Manager struct {
	cfg    Config
	hub    *chat.Hub
	logger *slog.Logger

	mu     sync.Mutex
	rooms  map[int]*tcp.Server
	closed bool
	wg     sync.WaitGroup

	// stopping holds ports whose Stop has not returned. They stay in rooms
	// so the port cannot be started again before the old room is gone.
	stopping map[int]struct{}
}

// NewManager creates a Manager that serves rooms through hub.
func NewManager(cfg Config, hub *chat.Hub) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BasePort <= 0 {
		cfg.BasePort = DefaultBasePort
	}
	return &Manager{
		cfg:      cfg,
		hub:      hub,
		logger:   cfg.Logger,
		rooms:    make(map[int]*tcp.Server),
		stopping: make(map[int]struct{}),
	}
}

// StartRoom binds port, opens its room and serves it in the background. It
// returns once the port is bound. A bind failure is returned as is and leaves
// every other room untouched.
func (m *Manager) StartRoom(port int, opts ...RoomOption) error {
	_, err := m.startRoom(port, opts...)
	return err
}

func (m *Manager) startRoom(port int, opts ...RoomOption) (int, error) {
	var o roomOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrShutdown
	}
	if _, ok := m.rooms[port]; ok && port != 0 {
		return 0, fmt.Errorf("port %d: %w", port, ErrRoomExists)
	}

	srv := tcp.New(tcp.Config{
		Host:         m.cfg.Host,
		Port:         port,
		WebSocket:    m.cfg.WebSocket,
		MaxFrameSize: m.cfg.MaxFrameSize,
		Logger:       m.logger,
	}, m.hub)
	if err := srv.Listen(); err != nil {
		return 0, err
	}

	bound := srv.Port()
	m.hub.Registry().Open(bound, o.expires)
	m.rooms[bound] = srv

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := srv.Serve(); err != nil {
			m.logger.Error("room listener failed", "room", bound, "error", err)
		}
	}()

	attrs := []any{"room", bound}
	if !o.expires.IsZero() {
		attrs = append(attrs, "expires", o.expires)
	}
	m.logger.Info("room started", attrs...)
	return bound, nil
}

// StopRoom closes the room listener on port and every socket in the room.
// The port is released only after the room is closed in the registry, so a
// StartRoom on the same port in the meantime fails with ErrRoomExists.
func (m *Manager) StopRoom(port int) error {
	m.mu.Lock()
	srv, ok := m.rooms[port]
	if _, stopping := m.stopping[port]; stopping {
		ok = false
	}
	if ok {
		m.stopping[port] = struct{}{}
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("port %d: %w", port, ErrRoomNotFound)
	}

	srv.Stop()

	m.mu.Lock()
	if m.rooms[port] == srv {
		delete(m.rooms, port)
	}
	delete(m.stopping, port)
	m.mu.Unlock()
	m.logger.Info("room stopped", "room", port)
	return nil
}

// CreateRoom allocates a free port starting at the configured base port and
// starts a room on it. When another process takes the port between the probe
// and the bind, the next port is tried, up to BindRetries more times.
func (m *Manager) CreateRoom(ctx context.Context, opts ...RoomOption) (int, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return 0, ErrShutdown
	}

	next := m.cfg.BasePort
	var lastErr error
	for attempt := 0; attempt <= m.cfg.BindRetries; attempt++ {
		port, err := AllocatePort(ctx, m.cfg.Host, next)
		if err != nil {
			return 0, fmt.Errorf("failed to allocate room port: %w", err)
		}

		bound, err := m.startRoom(port, opts...)
		if err == nil {
			return bound, nil
		}
		if errors.Is(err, ErrShutdown) {
			return 0, err
		}
		m.logger.Warn("room port taken after probe", "port", port, "attempt", attempt+1, "error", err)
		lastErr = err
		next = port + 1
	}
	return 0, fmt.Errorf("failed to create room after %d attempts: %w", m.cfg.BindRetries+1, lastErr)
}

// Rooms reports every running room in ascending port order.
func (m *Manager) Rooms() []RoomInfo {
	m.mu.Lock()
	ports := make([]int, 0, len(m.rooms))
	for port := range m.rooms {
		if _, stopping := m.stopping[port]; stopping {
			continue
		}
		ports = append(ports, port)
	}
	m.mu.Unlock()
	sort.Ints(ports)

	registry := m.hub.Registry()
	out := make([]RoomInfo, 0, len(ports))
	for _, port := range ports {
		expires, ok := registry.Expires(port)
		if !ok {
			continue
		}
		out = append(out, RoomInfo{
			Port:      port,
			Members:   registry.Members(port),
			Usernames: registry.Usernames(port),
			Expires:   expires,
		})
	}
	return out
}

// Shutdown stops every room and waits for their listeners to return. Later
// calls to StartRoom and CreateRoom fail with ErrShutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	servers := make([]*tcp.Server, 0, len(m.rooms))
	for port, srv := range m.rooms {
		servers = append(servers, srv)
		delete(m.rooms, port)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *tcp.Server) {
			defer wg.Done()
			srv.Stop()
		}(srv)
	}
	wg.Wait()
	m.wg.Wait()
	m.logger.Info("all rooms stopped", "count", len(servers))
}
