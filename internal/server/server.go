// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/luna-tui/internal/protocol"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:5000"

	// MaxRequestBodySize bounds JSON request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// DefaultMaxUploadSize bounds multipart uploads (32MB).
	DefaultMaxUploadSize = 32 * 1024 * 1024

	// AssistantName is the sender of assistant placeholder messages.
	AssistantName = protocol.SenderAssistant

	// SystemName is the sender of join and leave notices.
	SystemName = protocol.SenderSystem

)

// DefaultChannels are the channels a fresh server offers.
var DefaultChannels = []string{"general", "research"}

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config holds configuration for the mock server.
type Config struct {
	// Addr is the listen address (default: 127.0.0.1:5000)
	Addr string

	// PingInterval is how often the server pings clients (default: 25s)
	PingInterval time.Duration

	// PingTimeout is how long clients may wait past a missed ping (default: 20s)
	PingTimeout time.Duration

	// ChunkDelay spaces streamed chunks (default: 0)
	ChunkDelay time.Duration

	// MaxUploadSize bounds uploads (default: 32MB)
	MaxUploadSize int64

	// Channels seeds the channel list (default: DefaultChannels)
	Channels []string

	// Responder answers turns (default: EchoResponder)
	Responder Responder

	// Logger receives request and socket events (default: logrus standard logger)
	Logger logrus.FieldLogger

	// RequestsPerSecond limits REST requests per client IP (0 disables)
	RequestsPerSecond float64
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:          DefaultAddr,
		PingInterval:  25 * time.Second,
		PingTimeout:   20 * time.Second,
		MaxUploadSize: DefaultMaxUploadSize,
		Channels:      DefaultChannels,
		Responder:     EchoResponder,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.MaxUploadSize <= 0 {
		c.MaxUploadSize = d.MaxUploadSize
	}
	if c.Channels == nil {
		c.Channels = d.Channels
	}
	if c.Responder == nil {
		c.Responder = d.Responder
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the mock Luna chat server.
type Server struct {
	cfg      Config
	engine   *gin.Engine
	server   *http.Server
	store    *Store
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu    sync.Mutex
	conns map[*socketConn]struct{}
	wg    sync.WaitGroup
}

// New creates a server.
func New(cfg Config) *Server {
	cfg.fillDefaults()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		cfg:    cfg,
		engine: engine,
		store:  NewStore(cfg.Channels),
		log:    cfg.Logger.WithField("component", "server"),
		conns:  make(map[*socketConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	engine.Use(recovery(s.log), requestLogger(s.log))
	if cfg.RequestsPerSecond > 0 {
		engine.Use(rateLimit(newIPLimiter(cfg.RequestsPerSecond, int(cfg.RequestsPerSecond*2)+1), s.log))
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Store returns the server's store.
func (s *Server) Store() *Store {
	return s.store
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.engine.GET("/socket.io/", s.handleSocket)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/conversations/:user", s.handleConversations)
	s.engine.GET("/history/:user/:room/:conversation", s.handleHistory)
	s.engine.POST("/upload", bodyLimit(s.cfg.MaxUploadSize), s.handleUpload)
	s.engine.POST("/save_response", bodyLimit(MaxRequestBodySize), s.handleSaveResponse)
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	n := len(s.conns)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": n})
}

func (s *Server) handleConversations(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Conversations(c.Param("user")))
}

func (s *Server) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.History(c.Param("user"), c.Param("room"), c.Param("conversation")))
}

func (s *Server) handleUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.String(http.StatusBadRequest, "No files part")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.String(http.StatusBadRequest, "No selected files")
		return
	}
	for _, fh := range files {
		if fh.Filename == "" {
			c.String(http.StatusBadRequest, "One or more files have no selected file")
			return
		}
	}
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		s.store.AddUpload(name)
		s.log.WithFields(logrus.Fields{
			"event": "UPLOAD",
			"file":  name,
			"bytes": fh.Size,
		}).Info("file uploaded")
	}
	c.String(http.StatusOK, "Files uploaded and processed successfully.")
}

// saveRequest is the body of POST /save_response.
type saveRequest struct {
	Content string `json:"content"`
	User    string `json:"user"`
	Room    string `json:"room"`
}

func (s *Server) handleSaveResponse(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" || req.User == "" || req.Room == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid data"})
		return
	}
	s.store.SaveResponse(req.User, req.Room, req.Content)
	c.JSON(http.StatusOK, gin.H{"message": "Response saved successfully"})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:     s.engine,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"event": "SERVER_START",
		"addr":  ln.Addr().String(),
	}).Info("mock server listening")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes every socket and gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.WithField("event", "SERVER_SHUTDOWN").Info("starting graceful shutdown")

	s.CloseSockets()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// CloseSockets drops every socket connection and waits for their
// goroutines. Tests use it to simulate a server-side disconnect.
func (s *Server) CloseSockets() {
	s.mu.Lock()
	conns := make([]*socketConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	s.mu.Unlock()

	for _, sc := range conns {
		sc.close()
	}
	s.wg.Wait()
}

// ============================================================================
// HELPERS
// ============================================================================

func timestamp() string {
	return time.Now().Format(protocol.TimestampLayout)
}

func systemMessage(text string) protocol.RoomMessage {
	return protocol.RoomMessage{Msg: text, Sender: SystemName, Timestamp: timestamp()}
}
