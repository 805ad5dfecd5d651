package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"flashstream/internal/model"
	"flashstream/internal/protocol"
)

// Options controls the upstream connection and its retry policy.
type Options struct {
	// URL is the upstream flashblocks WebSocket endpoint.
	URL string
	// MaxRetries bounds consecutive failed connection attempts before
	// the listener gives up. Zero or negative retries forever.
	MaxRetries int
	// ReconnectDelay is the pause between reconnection attempts.
	ReconnectDelay time.Duration
}

// Listener consumes the upstream flashblock feed and drives the
// protocol dispatcher. Flashblocks are processed strictly one at a
// time: the next frame is not read until dispatch of the previous one
// has joined.
type Listener struct {
	opts       Options
	dispatcher *protocol.Dispatcher
	logger     *zap.Logger
}

// NewListener wires a feed consumer to a dispatcher.
func NewListener(opts Options, dispatcher *protocol.Dispatcher, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	return &Listener{
		opts:       opts,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Run connects to the upstream feed and consumes it until ctx is
// canceled or the retry budget is exhausted. A connection that drops
// after delivering at least one flashblock resets the retry counter.
func (l *Listener) Run(ctx context.Context) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		delivered, err := l.connectAndConsume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			attempts = 0
		}
		attempts++

		l.logger.Warn("upstream connection lost",
			zap.String("url", l.opts.URL),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)

		if l.opts.MaxRetries > 0 && attempts >= l.opts.MaxRetries {
			return fmt.Errorf("giving up after %d connection attempts: %w", attempts, err)
		}

		select {
		case <-time.After(l.opts.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// connectAndConsume dials the upstream once and reads frames until the
// connection fails or ctx is canceled. Reports whether at least one
// flashblock was delivered on this connection.
func (l *Listener) connectAndConsume(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.opts.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", l.opts.URL, err)
	}
	defer conn.Close()

	l.logger.Info("connected to flashblocks feed", zap.String("url", l.opts.URL))

	// ReadMessage has no context support; close the connection to
	// unblock it on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	delivered := false
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			return delivered, fmt.Errorf("read frame: %w", err)
		}

		if msgType == websocket.BinaryMessage {
			payload, err = decompressBrotli(payload)
			if err != nil {
				l.logger.Warn("dropping undecodable binary frame", zap.Error(err))
				continue
			}
		}

		if l.handleMessage(payload) {
			delivered = true
		}
	}
}

// handleMessage parses one frame and dispatches it. Malformed frames
// and flashblocks without a block number are dropped; neither aborts
// the stream. Reports whether a flashblock was dispatched.
func (l *Listener) handleMessage(payload []byte) bool {
	var fb model.Flashblock
	if err := json.Unmarshal(payload, &fb); err != nil {
		l.logger.Warn("dropping malformed flashblock frame",
			zap.Int("bytes", len(payload)),
			zap.Error(err),
		)
		return false
	}

	blockNumber, ok := fb.BlockNumber()
	if !ok {
		l.logger.Debug("skipping flashblock without block number",
			zap.String("payload_id", fb.PayloadID),
			zap.Uint64("index", fb.Index),
		)
		return false
	}

	fields := []zap.Field{
		zap.Uint64("block_number", blockNumber),
		zap.Uint64("index", fb.Index),
		zap.Int("receipts", fb.ReceiptCount()),
		zap.Int("logs", fb.TotalLogs()),
	}
	if fb.Diff != nil {
		fields = append(fields, zap.Int("diff_transactions", len(fb.Diff.Transactions)))
		if fb.Diff.GasUsed != nil {
			fields = append(fields, zap.String("gas_used", fb.Diff.GasUsed.String()))
		}
	}
	l.logger.Debug("flashblock received", fields...)

	l.dispatcher.Dispatch(&fb, blockNumber)
	return true
}
