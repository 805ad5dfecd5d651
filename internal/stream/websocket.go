package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketServer broadcasts envelopes to all connected WebSocket
// clients. Each envelope is delivered as one discrete text message per
// client, in publish order, best effort.
type WebSocketServer struct {
	broadcaster *Broadcaster
	registry    *Registry
	logger      *zap.Logger
}

// NewWebSocketServer creates a server with the given broadcast
// capacity (0 selects the default).
func NewWebSocketServer(capacity int, logger *zap.Logger) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketServer{
		broadcaster: NewBroadcaster(capacity),
		registry:    NewRegistry(),
		logger:      logger,
	}
}

// Start binds addr and serves upgrade requests in the background. A
// bind failure is returned synchronously; everything after that is
// per-connection and never fatal.
func (s *WebSocketServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	router := chi.NewRouter()
	router.Get("/", s.handleUpgrade)

	s.logger.Info("websocket server listening", zap.String("addr", addr))

	go func() {
		server := &http.Server{Handler: router}
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("websocket server stopped", zap.Error(err))
		}
	}()

	return nil
}

// ClientCount returns the number of currently connected clients.
func (s *WebSocketServer) ClientCount() int {
	return s.registry.Count()
}

// Send wraps data in an envelope and broadcasts it.
func (s *WebSocketServer) Send(dataType string, data interface{}) error {
	return s.SendEnvelope(NewEnvelope(dataType, data))
}

// SendEnvelope broadcasts a pre-built envelope to all connected
// clients. Zero connected clients is the expected steady state, not an
// error.
func (s *WebSocketServer) SendEnvelope(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("serialize envelope: %w", err)
	}
	s.broadcaster.Publish(string(payload))
	return nil
}

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	clientID := s.registry.Register(r.RemoteAddr)
	sub := s.broadcaster.Subscribe()

	s.logger.Info("new websocket connection",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Uint64("client_id", clientID),
	)

	go s.writePump(conn, sub, clientID)
	go s.readPump(conn, sub, clientID)
}

// writePump forwards broadcast messages to one client until the
// subscription closes or a write fails. A lagging client is logged and
// resumes from the current tail; it is never disconnected for lagging.
func (s *WebSocketServer) writePump(conn *websocket.Conn, sub *Subscriber, clientID uint64) {
	for {
		msg, lagged, err := sub.Recv(context.Background())
		if err != nil {
			return
		}
		if lagged > 0 {
			s.logger.Warn("client lagged behind",
				zap.Uint64("client_id", clientID),
				zap.Uint64("missed", lagged),
			)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			s.logger.Warn("write to client failed",
				zap.Uint64("client_id", clientID),
				zap.Error(err),
			)
			s.disconnect(conn, sub, clientID)
			return
		}
	}
}

// readPump drains incoming frames so control messages are processed
// and detects the peer closing the connection.
func (s *WebSocketServer) readPump(conn *websocket.Conn, sub *Subscriber, clientID uint64) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			s.disconnect(conn, sub, clientID)
			return
		}
		if msgType == websocket.TextMessage {
			s.logger.Debug("message from client",
				zap.Uint64("client_id", clientID),
				zap.Int("bytes", len(payload)),
			)
		}
	}
}

func (s *WebSocketServer) disconnect(conn *websocket.Conn, sub *Subscriber, clientID uint64) {
	sub.Close()
	_ = conn.Close()
	if s.registry.Unregister(clientID) {
		s.logger.Info("client disconnected",
			zap.Uint64("client_id", clientID),
			zap.Int("remaining_clients", s.registry.Count()),
		)
	}
}
