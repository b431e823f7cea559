package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/omochice/room-socket-chat/internal/client"
	"github.com/omochice/room-socket-chat/pkg/protocol"
)

const renameCommand = "/username "

func main() {
	serverAddr := flag.String("server", "localhost:5000", "Room address (e.g., localhost:5000)")
	username := flag.String("username", "", "Username for chat")
	useWebSocket := flag.Bool("ws", false, "Connect over WebSocket instead of raw TCP")
	wire := flag.String("wire", protocol.WireTagged, "Wire format: tagged or legacy")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *username == "" {
		logger.Error("username is required; use -username")
		os.Exit(1)
	}
	codec, err := protocol.Lookup(*wire)
	if err != nil {
		logger.Error("invalid wire format", "error", err)
		os.Exit(1)
	}

	c := client.New(client.Options{
		Address:   *serverAddr,
		Username:  *username,
		Codec:     codec,
		WebSocket: *useWebSocket,
		Logger:    logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = c.Connect(ctx)
	cancel()
	if err != nil {
		logger.Error("failed to connect", "server", *serverAddr, "error", err)
		os.Exit(1)
	}
	defer c.Disconnect()

	if err := c.Join(); err != nil {
		logger.Error("failed to join room", "error", err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		self := *username
		for msg := range c.Messages() {
			if msg.Type == protocol.MessageTypeRename && msg.Sender == self {
				self = msg.Content
			}
			if line, ok := render(msg, self); ok {
				fmt.Println(line)
			}
		}
		fmt.Println("*** connection closed ***")
	}()

	fmt.Println("Type your messages ('/username <name>' to rename, 'quit' to exit):")
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("error reading input", "error", err)
		}
	}()

	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
				continue
			case text == "quit" || text == "exit":
				return
			case strings.HasPrefix(text, renameCommand):
				err = c.Rename(strings.TrimSpace(strings.TrimPrefix(text, renameCommand)))
			default:
				err = c.SendMessage(text)
			}
			if err != nil {
				logger.Warn("failed to send", "error", err)
			}
		}
	}
}
