package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/omochice/room-socket-chat/internal/chat"
	"github.com/omochice/room-socket-chat/internal/transport/ws"
)

// ErrNotListening is returned by Serve when Listen has not succeeded.
var ErrNotListening = errors.New("room listener is not listening")

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Config describes one room listener.
type Config struct {
	Host string
	// Port 0 asks the kernel for a free port; Port() reports the bound one.
	Port         int
	WebSocket    bool
	MaxFrameSize int
	Logger       *slog.Logger
}

// Server owns the listening socket of one room and hands every accepted
// connection to the Hub.
type Server struct {
	cfg      Config
	hub      *chat.Hub
	logger   *slog.Logger
	listener net.Listener
	port     int

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a room listener that uses the provided Hub.
func New(cfg Config, hub *chat.Hub) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		hub:    hub,
		logger: logger,
		port:   cfg.Port,
		conns:  make(map[net.Conn]struct{}),
		ctx:    ctx,
		cancel: cancel,
		quit:   make(chan struct{}),
	}
}

// Listen binds the room port. A failure leaves the server unbound; it is
// never retried here.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start room listener on port %d: %w", s.cfg.Port, err)
	}
	s.listener = listener
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.logger = s.logger.With("room", s.port)
	s.logger.Info("room listener started", "addr", listener.Addr().String())
	return nil
}

// Serve accepts connections until Stop is called.
func (s *Server) Serve() error {
	if s.listener == nil {
		return ErrNotListening
	}

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			delay = nextAcceptDelay(delay)
			s.logger.Warn("failed to accept connection", "error", err, "retry_in", delay)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-s.quit:
				timer.Stop()
				return nil
			}
			continue
		}
		delay = 0

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// nextAcceptDelay doubles the pause after a failed Accept, from
// minAcceptDelay up to maxAcceptDelay.
func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	if next := prev * 2; next < maxAcceptDelay {
		return next
	}
	return maxAcceptDelay
}

// Stop closes the listener and every connection of the room, then waits
// for their handlers to return.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.quit)
		conns := make([]net.Conn, 0, len(s.conns))
		for conn := range s.conns {
			conns = append(conns, conn)
		}
		s.mu.Unlock()

		if s.listener != nil {
			s.listener.Close()
		}
		for _, conn := range conns {
			conn.Close()
		}
		closed := s.hub.CloseRoom(s.port)
		s.cancel()
		s.wg.Wait()
		s.logger.Info("room listener stopped", "members_closed", closed)
	})
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Port returns the room port, which is also the room's registry key.
func (s *Server) Port() int {
	return s.port
}

// track records conn so that Stop can close it. It refuses new connections
// once Stop has started.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// handleConnection determines whether the connection is a WebSocket upgrade
// or a raw TCP client and runs it until it ends.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	reader := bufio.NewReader(conn)
	upgrade, err := isHTTP(reader)
	if err != nil {
		s.logger.Debug("connection closed before handshake", "remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}

	codec := s.hub.Codec()
	var c chat.Conn
	switch {
	case upgrade && s.cfg.WebSocket:
		wsConn, err := ws.Accept(conn, reader, !codec.Framed())
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "remote", conn.RemoteAddr().String(), "error", err)
			conn.Close()
			return
		}
		c = wsConn
	default:
		c = NewConn(conn, reader, codec.Framed(), s.cfg.MaxFrameSize)
	}

	s.hub.HandleClient(s.ctx, s.port, c)
}
