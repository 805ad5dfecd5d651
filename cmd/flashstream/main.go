package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"flashstream/internal/config"
	"flashstream/internal/ingest"
	"flashstream/internal/protocol"
	"flashstream/internal/stream"
)

func main() {
	root := &cobra.Command{
		Use:          "flashstream",
		Short:        "Real-time flashblock event streamer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Consume the flashblocks feed and stream decoded events",
		RunE:  runStreamer,
	}

	runCmd.Flags().String("url", "wss://sepolia.flashblocks.base.org/ws", "upstream flashblocks WebSocket URL")
	runCmd.Flags().String("stream", config.StreamWebSocket, "output stream kind (print, websocket, sse)")
	runCmd.Flags().String("addr", "localhost:9001", "listen address for websocket/sse streams")
	runCmd.Flags().Int("capacity", 100, "per-client broadcast buffer capacity")
	runCmd.Flags().Int("max-retries", 25, "maximum consecutive reconnect attempts, 0 for unlimited")
	runCmd.Flags().Duration("reconnect-delay", time.Second, "delay between reconnect attempts")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	subscribeCmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Connect to a running streamer and print its events",
		RunE:  runSubscribe,
	}

	subscribeCmd.Flags().String("url", "ws://localhost:9001", "streamer WebSocket URL")
	subscribeCmd.Flags().Bool("pretty", true, "pretty-print received events")
	subscribeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(subscribeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStreamer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sink, err := buildSink(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := protocol.NewDispatcher(protocol.DefaultHandlers(logger), sink, logger)
	listener := ingest.NewListener(ingest.Options{
		URL:            cfg.URL,
		MaxRetries:     cfg.MaxRetries,
		ReconnectDelay: cfg.ReconnectDelay,
	}, dispatcher, logger)

	logger.Info("flashstream start",
		zap.String("url", cfg.URL),
		zap.String("stream", cfg.Stream),
		zap.String("addr", cfg.Addr),
		zap.Int("capacity", cfg.Capacity),
		zap.Int("handlers", dispatcher.HandlerCount()),
	)

	if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// buildSink starts the selected output stream. A failure to bind the
// listen address is fatal at startup rather than discovered later.
func buildSink(cfg config.Config, logger *zap.Logger) (stream.Sink, error) {
	switch cfg.Stream {
	case config.StreamPrint:
		return stream.NewPrintSink(), nil
	case config.StreamWebSocket:
		server := stream.NewWebSocketServer(cfg.Capacity, logger)
		if err := server.Start(cfg.Addr); err != nil {
			return nil, fmt.Errorf("start websocket stream: %w", err)
		}
		return server, nil
	case config.StreamSSE:
		server := stream.NewSSEServer(cfg.Capacity, logger)
		if err := server.Start(cfg.Addr); err != nil {
			return nil, fmt.Errorf("start sse stream: %w", err)
		}
		return server, nil
	default:
		return nil, fmt.Errorf("unknown stream kind %q", cfg.Stream)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
