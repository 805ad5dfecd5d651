package stream

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SSEServer broadcasts envelopes to all connected clients over
// Server-Sent Events. Each envelope is delivered as one
// "data: <json>\n\n" frame on an open-ended text/event-stream
// response.
type SSEServer struct {
	broadcaster *Broadcaster
	registry    *Registry
	logger      *zap.Logger
}

// NewSSEServer creates a server with the given broadcast capacity
// (0 selects the default).
func NewSSEServer(capacity int, logger *zap.Logger) *SSEServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEServer{
		broadcaster: NewBroadcaster(capacity),
		registry:    NewRegistry(),
		logger:      logger,
	}
}

// Start binds addr and serves event-stream requests in the background.
// A bind failure is returned synchronously.
func (s *SSEServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	router := chi.NewRouter()
	router.Get("/", s.handleEvents)
	router.Get("/events", s.handleEvents)

	s.logger.Info("sse server listening", zap.String("addr", addr))

	go func() {
		server := &http.Server{Handler: router}
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("sse server stopped", zap.Error(err))
		}
	}()

	return nil
}

// ClientCount returns the number of currently connected clients.
func (s *SSEServer) ClientCount() int {
	return s.registry.Count()
}

// Send wraps data in an envelope and broadcasts it.
func (s *SSEServer) Send(dataType string, data interface{}) error {
	return s.SendEnvelope(NewEnvelope(dataType, data))
}

// SendEnvelope broadcasts a pre-built envelope to all connected
// clients. Zero connected clients is not an error.
func (s *SSEServer) SendEnvelope(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("serialize envelope: %w", err)
	}
	s.broadcaster.Publish(string(payload))
	return nil
}

func (s *SSEServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientID := s.registry.Register(r.RemoteAddr)
	sub := s.broadcaster.Subscribe()
	defer func() {
		sub.Close()
		if s.registry.Unregister(clientID) {
			s.logger.Info("sse client disconnected",
				zap.Uint64("client_id", clientID),
				zap.Int("remaining_clients", s.registry.Count()),
			)
		}
	}()

	s.logger.Info("new sse connection",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Uint64("client_id", clientID),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		msg, lagged, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if lagged > 0 {
			s.logger.Warn("sse client lagged behind",
				zap.Uint64("client_id", clientID),
				zap.Uint64("missed", lagged),
			)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
			s.logger.Warn("write to sse client failed",
				zap.Uint64("client_id", clientID),
				zap.Error(err),
			)
			return
		}
		flusher.Flush()
	}
}
