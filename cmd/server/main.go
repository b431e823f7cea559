package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omochice/room-socket-chat/internal/chat"
	"github.com/omochice/room-socket-chat/internal/config"
	"github.com/omochice/room-socket-chat/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "room server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	cfg.RegisterFlags(flag.CommandLine)
	roomTTL := flag.Duration("room-ttl", 0, "Stop admitting new users this long after a room starts (0 never expires)")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	codec, err := cfg.Codec()
	if err != nil {
		return err
	}
	hub := chat.NewHub(chat.NewRegistry(), codec, logger,
		chat.WithSendQueue(cfg.SendQueue),
		chat.WithRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.Interval),
	)
	manager := server.NewManager(server.Config{
		Host:         cfg.Host,
		BasePort:     cfg.BasePort,
		WebSocket:    cfg.WebSocket,
		MaxFrameSize: cfg.MaxFrameSize,
		BindRetries:  cfg.BindRetries,
		Logger:       logger,
	}, hub)
	defer manager.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []server.RoomOption
	if *roomTTL > 0 {
		opts = append(opts, server.WithExpiry(time.Now().Add(*roomTTL)))
	}

	if len(cfg.Rooms) == 0 {
		port, err := manager.CreateRoom(ctx, opts...)
		if err != nil {
			return err
		}
		logger.Info("room created", "room", port)
	}
	for _, port := range cfg.Rooms {
		if err := manager.StartRoom(port, opts...); err != nil {
			// A taken port does not affect the other rooms.
			logger.Error("failed to start room", "room", port, "error", err)
		}
	}
	if len(manager.Rooms()) == 0 {
		return fmt.Errorf("no room could be started")
	}

	logger.Info("accepting connections",
		"wire", codec.Name(),
		"websocket", cfg.WebSocket,
		"rooms", len(manager.Rooms()),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
