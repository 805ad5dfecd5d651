package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const subscriberPingInterval = 30 * time.Second

// runSubscribe is a debugging client: it connects to a running
// streamer's WebSocket endpoint and prints every event envelope it
// receives.
func runSubscribe(cmd *cobra.Command, _ []string) error {
	url, _ := cmd.Flags().GetString("url")
	pretty, _ := cmd.Flags().GetBool("pretty")
	level, _ := cmd.Flags().GetString("log-level")

	logger, err := newLogger(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	logger.Info("subscribed to event stream", zap.String("url", url))

	// Keep the connection alive and unblock the read loop on shutdown.
	go func() {
		ticker := time.NewTicker(subscriberPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		printEvent(payload, pretty)
	}
}

func printEvent(payload []byte, pretty bool) {
	if pretty {
		var event map[string]interface{}
		if err := json.Unmarshal(payload, &event); err == nil {
			if out, err := json.MarshalIndent(event, "", "  "); err == nil {
				fmt.Println(string(out))
				return
			}
		}
	}
	fmt.Println(string(payload))
}
