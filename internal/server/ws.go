package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agnij-dutta/attack-capital/internal/audio"
	"github.com/agnij-dutta/attack-capital/internal/fanout"
	"github.com/agnij-dutta/attack-capital/internal/metrics"
	"github.com/agnij-dutta/attack-capital/internal/protocol"
	"github.com/agnij-dutta/attack-capital/internal/session"
)

// WSServer accepts duplex client connections, routes inbound control and
// audio messages to the session registry, and relays live events back.
type WSServer struct {
	server   *http.Server
	upgrader websocket.Upgrader

	registry *session.Registry
	hub      *fanout.Hub
	metrics  *metrics.Metrics
	logger   *slog.Logger

	pingInterval time.Duration

	clients map[string]*wsClient
	mu      sync.Mutex
}

// WSServerConfig contains websocket server configuration
type WSServerConfig struct {
	Port         int
	Address      string
	PingInterval time.Duration
}

// wsClient is one connected recorder or viewer. Writes are serialized
// because the underlying connection allows a single writer.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	logger  *slog.Logger
}

// Deliver implements fanout.Subscriber
func (c *wsClient) Deliver(event interface{}) error {
	return c.send(event)
}

func (c *wsClient) send(msg interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

// NewWSServer creates the websocket server
func NewWSServer(cfg WSServerConfig, registry *session.Registry, hub *fanout.Hub,
	m *metrics.Metrics, logger *slog.Logger) *WSServer {

	s := &WSServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		registry:     registry,
		hub:          hub,
		metrics:      m,
		logger:       logger,
		pingInterval: cfg.PingInterval,
		clients:      make(map[string]*wsClient),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler: mux,
	}

	return s
}

// Start begins accepting connections
func (s *WSServer) Start() {
	s.logger.Info("Starting websocket server",
		slog.String("address", s.server.Addr),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Websocket server error", slog.String("error", err.Error()))
		}
	}()
}

// Stop gracefully shuts the server down
func (s *WSServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping websocket server...")

	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	return s.server.Shutdown(ctx)
}

// ConnectionCount returns the number of open client connections
func (s *WSServer) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// handleUpgrade upgrades an HTTP request to a duplex channel
func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	client := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		logger: s.logger,
	}

	s.mu.Lock()
	s.clients[client.id] = client
	count := len(s.clients)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetWSConnections(count)
	}

	s.logger.Info("Client connected",
		slog.String("client_id", client.id),
		slog.String("remote_addr", r.RemoteAddr),
	)

	go s.pingLoop(client)
	s.readLoop(client)
}

// pingLoop sends liveness probes until the connection dies
func (s *WSServer) pingLoop(c *wsClient) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := c.send(protocol.NewPing()); err != nil {
			return
		}
	}
}

// readLoop consumes inbound frames until the connection closes
func (s *WSServer) readLoop(c *wsClient) {
	defer s.closeClient(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Client connection error",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			c.send(protocol.NewError(err.Error()))
			continue
		}

		s.dispatch(c, msg)
	}
}

// closeClient tears down a finished connection
func (s *WSServer) closeClient(c *wsClient) {
	c.conn.Close()
	s.hub.UnsubscribeAll(c.id)

	s.mu.Lock()
	delete(s.clients, c.id)
	count := len(s.clients)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetWSConnections(count)
	}

	s.logger.Info("Client disconnected", slog.String("client_id", c.id))
}

// dispatch routes one parsed inbound message
func (s *WSServer) dispatch(c *wsClient, msg *protocol.Inbound) {
	switch msg.Type {
	case protocol.TypeStartRecording:
		s.handleStart(c, msg.Start)
	case protocol.TypeAudioChunk:
		s.handleAudioChunk(c, msg.Audio)
	case protocol.TypePauseRecording:
		s.handleControl(c, msg.Control, protocol.TypeRecordingPaused, s.registry.Pause)
	case protocol.TypeResumeRecording:
		s.handleControl(c, msg.Control, protocol.TypeRecordingResumed, s.registry.Resume)
	case protocol.TypeCancelRecording:
		s.handleControl(c, msg.Control, protocol.TypeRecordingCancelled, s.registry.Cancel)
	case protocol.TypeStopRecording:
		s.handleStop(c, msg.Control)
	case protocol.TypeJoinSession:
		s.hub.Subscribe(msg.Control.SessionID, c.id, c)
	case protocol.TypePong:
		// Liveness acknowledged; nothing to do.
	}
}

func (s *WSServer) handleStart(c *wsClient, msg *protocol.StartRecording) {
	title := fmt.Sprintf("Recording %s", time.Now().Format("2006-01-02 15:04"))

	if err := s.registry.InitializeSession(msg.SessionID, msg.UserID, title); err != nil {
		c.send(protocol.NewError(clientErrorMessage(err)))
		return
	}

	// The recorder hears its own session's events.
	s.hub.Subscribe(msg.SessionID, c.id, c)

	c.send(protocol.NewAck(protocol.TypeRecordingStarted, msg.SessionID, ""))
}

func (s *WSServer) handleAudioChunk(c *wsClient, msg *protocol.AudioChunk) {
	payload, err := base64.StdEncoding.DecodeString(msg.AudioData)
	if err != nil {
		c.send(protocol.NewError("audio-chunk audioData is not valid base64"))
		return
	}

	if err := s.registry.AddFragment(msg.SessionID, payload, msg.MimeType, msg.AudioLevel, msg.ChunkID); err != nil {
		c.send(protocol.NewError(clientErrorMessage(err)))
		return
	}

	c.send(protocol.NewAck(protocol.TypeChunkReceived, msg.SessionID, msg.ChunkID))
}

func (s *WSServer) handleControl(c *wsClient, msg *protocol.SessionControl, ack protocol.MessageType, op func(string) error) {
	if err := op(msg.SessionID); err != nil {
		c.send(protocol.NewError(clientErrorMessage(err)))
		return
	}

	c.send(protocol.NewAck(ack, msg.SessionID, ""))
}

func (s *WSServer) handleStop(c *wsClient, msg *protocol.SessionControl) {
	transcript, summary, err := s.registry.Stop(msg.SessionID)
	if err != nil {
		c.send(protocol.NewError(clientErrorMessage(err)))
		return
	}

	c.send(protocol.NewRecordingCompleted(msg.SessionID, transcript, summary))
}

// clientErrorMessage maps pipeline errors to client-facing text
func clientErrorMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrBufferOverflow):
		return "Buffer overflow: Session exceeds maximum size"
	case errors.Is(err, session.ErrNotFound):
		return "Session not found"
	case errors.Is(err, session.ErrBadState):
		return err.Error()
	default:
		return err.Error()
	}
}
