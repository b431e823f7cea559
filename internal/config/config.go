// Package config provides the runtime settings of the room server, their
// defaults, environment and flag overrides, and validation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/omochice/room-socket-chat/pkg/protocol"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const envPrefix = "ROOMCHAT_"

// RateLimitConfig defines per-connection chat rate limiting. A zero Burst
// disables the limit.
type RateLimitConfig struct {
	Burst    int
	Interval time.Duration
}

// Config holds the server settings.
type Config struct {
	Host string
	// BasePort is where room port allocation starts.
	BasePort int
	// Rooms are started at boot. When empty, one room is created on the
	// first free port from BasePort.
	Rooms        []int
	Wire         string
	WebSocket    bool
	MaxFrameSize int
	SendQueue    int
	BindRetries  int
	RateLimit    RateLimitConfig
	LogLevel     string
	LogFormat    string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:         "0.0.0.0",
		BasePort:     5000,
		Wire:         protocol.WireTagged,
		WebSocket:    true,
		MaxFrameSize: protocol.DefaultMaxFrameSize,
		SendQueue:    64,
		BindRetries:  5,
		RateLimit: RateLimitConfig{
			Interval: time.Second,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// FromEnv returns the defaults overridden by ROOMCHAT_* environment
// variables. Unparseable values keep the default; Validate reports values
// that parse but are out of range.
func FromEnv() Config {
	cfg := Default()

	if host := os.Getenv(envPrefix + "HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv(envPrefix + "BASE_PORT"); port != "" {
		cfg.BasePort = parseIntValue(port, cfg.BasePort)
	}
	if rooms := os.Getenv(envPrefix + "ROOMS"); rooms != "" {
		if ports, err := parsePorts(rooms); err == nil {
			cfg.Rooms = ports
		}
	}
	if wire := os.Getenv(envPrefix + "WIRE"); wire != "" {
		cfg.Wire = strings.ToLower(strings.TrimSpace(wire))
	}
	if websocket := os.Getenv(envPrefix + "WEBSOCKET"); websocket != "" {
		if enabled, err := strconv.ParseBool(websocket); err == nil {
			cfg.WebSocket = enabled
		}
	}
	if size := os.Getenv(envPrefix + "MAX_FRAME_SIZE"); size != "" {
		cfg.MaxFrameSize = parseIntValue(size, cfg.MaxFrameSize)
	}
	if queue := os.Getenv(envPrefix + "SEND_QUEUE"); queue != "" {
		cfg.SendQueue = parseIntValue(queue, cfg.SendQueue)
	}
	if retries := os.Getenv(envPrefix + "BIND_RETRIES"); retries != "" {
		cfg.BindRetries = parseIntValue(retries, cfg.BindRetries)
	}
	if burst := os.Getenv(envPrefix + "RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv(envPrefix + "RATE_LIMIT_INTERVAL"); interval != "" {
		cfg.RateLimit.Interval = parseInterval(interval, cfg.RateLimit.Interval)
	}
	if level := os.Getenv(envPrefix + "LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := os.Getenv(envPrefix + "LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}

	return cfg
}

// RegisterFlags binds the settings to fs, using the current values as flag
// defaults so that flags override the environment.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "Interface the room listeners bind to")
	fs.IntVar(&c.BasePort, "base-port", c.BasePort, "First port probed when creating a room")
	fs.Func("rooms", "Comma-separated room ports to start (e.g., 5000,5001)", func(value string) error {
		ports, err := parsePorts(value)
		if err != nil {
			return err
		}
		c.Rooms = ports
		return nil
	})
	fs.StringVar(&c.Wire, "wire", c.Wire, "Wire format: tagged or legacy")
	fs.BoolVar(&c.WebSocket, "websocket", c.WebSocket, "Accept WebSocket upgrades on room ports")
	fs.IntVar(&c.MaxFrameSize, "max-frame-size", c.MaxFrameSize, "Largest accepted frame in bytes")
	fs.IntVar(&c.SendQueue, "send-queue", c.SendQueue, "Outbound frames buffered per client")
	fs.IntVar(&c.BindRetries, "bind-retries", c.BindRetries, "Extra ports tried when a room port is taken")
	fs.IntVar(&c.RateLimit.Burst, "rate-burst", c.RateLimit.Burst, "Chat frames allowed per interval per client (0 disables)")
	fs.DurationVar(&c.RateLimit.Interval, "rate-interval", c.RateLimit.Interval, "Rate limit refill interval")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: text or json")
}

// Validate reports every setting that is out of range.
func (c Config) Validate() error {
	var errs []error
	if !validPort(c.BasePort) {
		errs = append(errs, fmt.Errorf("base port %d out of range", c.BasePort))
	}
	for _, port := range c.Rooms {
		if !validPort(port) {
			errs = append(errs, fmt.Errorf("room port %d out of range", port))
		}
	}
	if _, err := protocol.Lookup(c.Wire); err != nil {
		errs = append(errs, err)
	}
	if c.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("max frame size must be positive, got %d", c.MaxFrameSize))
	}
	if c.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("send queue must be positive, got %d", c.SendQueue))
	}
	if c.BindRetries < 0 {
		errs = append(errs, fmt.Errorf("bind retries must not be negative, got %d", c.BindRetries))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("rate limit burst must not be negative, got %d", c.RateLimit.Burst))
	}
	if c.RateLimit.Burst > 0 && c.RateLimit.Interval <= 0 {
		errs = append(errs, fmt.Errorf("rate limit interval must be positive, got %s", c.RateLimit.Interval))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Codec returns the wire codec named by Wire.
func (c Config) Codec() (protocol.Codec, error) {
	return protocol.Lookup(c.Wire)
}

// NewLogger builds a slog logger writing to w in the configured format and
// level. An unknown level falls back to info.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", value)
	}
	return level, nil
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}

func parsePorts(value string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", part)
		}
		ports = append(ports, port)
	}
	return ports, nil
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}

// parseInterval accepts a Go duration or a whole number of seconds.
func parseInterval(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
