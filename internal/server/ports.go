package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// ErrNoFreePort is returned when every port from the start port up to 65535
// answered the probe.
var ErrNoFreePort = errors.New("no free port")

const (
	maxPort      = 65535
	probeTimeout = 200 * time.Millisecond
)

// AllocatePort returns the first port at or above start on which nothing
// accepts a TCP connection. The probe is advisory: another process may bind
// the port before the caller does, so callers must treat a later bind
// failure as a normal outcome.
func AllocatePort(ctx context.Context, host string, start int) (int, error) {
	if start <= 0 {
		start = 1
	}
	probeHost := host
	if probeHost == "" || probeHost == "0.0.0.0" || probeHost == "::" {
		probeHost = "127.0.0.1"
	}

	dialer := net.Dialer{Timeout: probeTimeout}
	for port := start; port <= maxPort; port++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(probeHost, strconv.Itoa(port)))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			return port, nil
		}
		conn.Close()
	}
	return 0, ErrNoFreePort
}
