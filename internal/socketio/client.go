// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/stream"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConnected is returned when writing without a live connection.
	ErrNotConnected = errors.New("socketio: not connected")

	// ErrPingTimeout is raised when the server stops pinging.
	ErrPingTimeout = errors.New("socketio: ping timeout")

	// ErrServerDisconnect is raised when the server closes the namespace.
	ErrServerDisconnect = errors.New("socketio: disconnected by server")
)

// ConnectError is a refused namespace connect.
type ConnectError struct {
	Message string
}

func (e *ConnectError) Error() string {
	return "socketio: connect refused: " + e.Message
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config holds configuration options for the client.
type Config struct {
	// URL is the server base URL (http, https, ws or wss).
	URL string

	// Path is the Engine.IO endpoint path (default: /socket.io/)
	Path string

	// Header is sent with the WebSocket upgrade request.
	Header http.Header

	// DialTimeout bounds dial plus handshake (default: 10s)
	DialTimeout time.Duration

	// WriteTimeout bounds a single frame write (default: 10s)
	WriteTimeout time.Duration

	// Reconnect re-dials after the connection drops.
	Reconnect bool

	// ReconnectInterval is the minimum spacing between dials (default: 2s)
	ReconnectInterval time.Duration

	// ReconnectBurst is the number of immediate re-dials allowed (default: 1)
	ReconnectBurst int

	// Logger receives connection events (default: logrus standard logger)
	Logger logrus.FieldLogger

	// Dialer overrides the WebSocket dialer.
	Dialer *websocket.Dialer
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		URL:               "http://127.0.0.1:5000",
		Path:              "/socket.io/",
		DialTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		Reconnect:         true,
		ReconnectInterval: 2 * time.Second,
		ReconnectBurst:    1,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.ReconnectBurst <= 0 {
		c.ReconnectBurst = d.ReconnectBurst
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// EndpointURL builds the websocket transport URL for a server base URL.
func EndpointURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if path == "" {
		path = "/socket.io/"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a Socket.IO connection that implements stream.Channel.
//
// One read loop dispatches events into the embedded Hub in arrival order.
// Writes are serialized. When the connection drops every turn still
// listening gets a transport error, then the client re-dials if enabled.
//
// Example:
//
//	c := socketio.New(socketio.Config{URL: "http://localhost:5000"})
//	if err := c.Connect(ctx); err != nil {
//	    return err
//	}
//	defer c.Close()
type Client struct {
	*stream.Hub

	cfg      Config
	endpoint string
	log      logrus.FieldLogger
	limiter  *rate.Limiter

	mu        sync.Mutex
	conn      *websocket.Conn
	handshake Handshake
	connected bool
	onConnect []func()

	writeMu sync.Mutex

	lastSeenMu sync.Mutex
	lastSeen   time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client. Call Connect to dial.
func New(cfg Config) *Client {
	cfg.fillDefaults()
	return &Client{
		Hub:     stream.NewHub(),
		cfg:     cfg,
		log:     cfg.Logger.WithField("component", "socketio"),
		limiter: rate.NewLimiter(rate.Every(cfg.ReconnectInterval), cfg.ReconnectBurst),
	}
}

// Connect dials the server, completes the handshake and starts the read
// loop. The loop runs until Close.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := EndpointURL(c.cfg.URL, c.cfg.Path)
	if err != nil {
		return err
	}
	c.endpoint = endpoint

	conn, hs, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.attach(conn, hs)
	go c.run(runCtx, conn)
	return nil
}

// OnConnect registers fn to run after every successful reconnect.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Connected reports whether the connection is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SID returns the session id of the current connection.
func (c *Client) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshake.SID
}

// Close stops the read loop and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	conn := c.conn
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	if conn != nil {
		_ = c.writeFrame(conn, FrameDisconnect)
	}
	cancel()
	<-done
	c.Hub.Close()
	return nil
}

// =============================================================================
// SENDING
// =============================================================================

// Send emits the turn. A failure is raised as the turn's transport error.
func (c *Client) Send(ctx context.Context, turn protocol.Turn) {
	if err := c.Emit(ctx, protocol.EventMessage, turn); err != nil {
		c.log.WithFields(logrus.Fields{
			"event":      "SEND_FAILED",
			"session_id": turn.ID,
		}).WithError(err).Warn("turn not sent")
		c.Dispatch(protocol.TransportErrorEvent(turn.ID), stream.EncodeFault("send", err))
	}
}

// Emit sends one event with v as its data.
func (c *Client) Emit(ctx context.Context, event string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := EncodeEvent(event, v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}
	return c.writeFrame(conn, frame)
}

// Request emits event and waits for the reply event. The subscription is
// taken before the emit so a fast reply is not missed.
func (c *Client) Request(ctx context.Context, event string, v any, reply string) (json.RawMessage, error) {
	got := make(chan json.RawMessage, 1)
	sub, err := c.Subscribe(reply, func(payload json.RawMessage) {
		select {
		case got <- payload:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer c.Unsubscribe(sub)

	if err := c.Emit(ctx, event, v); err != nil {
		return nil, err
	}
	select {
	case payload := <-got:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// =============================================================================
// CONNECTION
// =============================================================================

// dial opens the websocket and completes the Engine.IO and namespace
// handshakes.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, Handshake, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.endpoint, c.cfg.Header)
	if err != nil {
		return nil, Handshake{}, fmt.Errorf("failed to connect to %s: %w", c.cfg.URL, err)
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)

	hs, err := c.negotiate(conn)
	if err != nil {
		conn.Close()
		return nil, Handshake{}, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, hs, nil
}

func (c *Client) negotiate(conn *websocket.Conn) (Handshake, error) {
	p, err := readPacket(conn)
	if err != nil {
		return Handshake{}, fmt.Errorf("read open packet: %w", err)
	}
	if p.Kind != KindOpen {
		return Handshake{}, fmt.Errorf("%w: expected open packet", ErrMalformed)
	}
	hs, err := ParseHandshake(p.Data)
	if err != nil {
		return Handshake{}, err
	}

	if err := c.writeFrame(conn, FrameConnect); err != nil {
		return Handshake{}, err
	}
	for {
		p, err := readPacket(conn)
		if err != nil {
			return Handshake{}, fmt.Errorf("read connect ack: %w", err)
		}
		switch p.Kind {
		case KindConnect:
			return hs, nil
		case KindConnectError:
			return Handshake{}, &ConnectError{Message: ConnectErrorMessage(p.Data)}
		case KindPing:
			if err := c.writeFrame(conn, FramePong); err != nil {
				return Handshake{}, err
			}
		}
	}
}

func readPacket(conn *websocket.Conn) (Packet, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Packet{}, err
	}
	return Decode(string(data))
}

func (c *Client) attach(conn *websocket.Conn, hs Handshake) {
	c.mu.Lock()
	c.conn = conn
	c.handshake = hs
	c.connected = true
	c.mu.Unlock()
	c.touch()

	c.log.WithFields(logrus.Fields{
		"event":         "SOCKET_CONNECTED",
		"sid":           hs.SID,
		"ping_interval": hs.PingInterval,
	}).Info("connected")
}

func (c *Client) detach() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) touch() {
	c.lastSeenMu.Lock()
	c.lastSeen = time.Now()
	c.lastSeenMu.Unlock()
}

func (c *Client) sinceSeen() time.Duration {
	c.lastSeenMu.Lock()
	defer c.lastSeenMu.Unlock()
	return time.Since(c.lastSeen)
}

// run serves connections until ctx is cancelled, re-dialing after drops.
func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)

	for {
		err := c.serve(ctx, conn)
		c.detach()
		conn.Close()

		if ctx.Err() != nil {
			c.FailAll("connection", errors.New("client closed"))
			return
		}

		n := c.FailAll("connection", err)
		c.log.WithFields(logrus.Fields{
			"event":        "SOCKET_DISCONNECTED",
			"failed_turns": n,
		}).WithError(err).Warn("connection lost")

		if !c.cfg.Reconnect {
			return
		}
		conn = c.redial(ctx)
		if conn == nil {
			return
		}
	}
}

// redial retries until a connection is up or ctx is cancelled.
func (c *Client) redial(ctx context.Context) *websocket.Conn {
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}
		conn, hs, err := c.dial(ctx)
		if err != nil {
			c.log.WithFields(logrus.Fields{
				"event":   "SOCKET_REDIAL_FAILED",
				"attempt": attempt,
			}).WithError(err).Debug("reconnect failed")
			continue
		}
		c.attach(conn, hs)

		c.mu.Lock()
		hooks := append([]func(){}, c.onConnect...)
		c.mu.Unlock()
		for _, fn := range hooks {
			go fn()
		}
		return conn
	}
}

// serve runs the read loop and the keepalive watchdog for one connection.
// It returns the error that ended the connection.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	hs := c.handshake
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.readLoop(conn)
	})

	g.Go(func() error {
		return c.keepalive(gctx, hs)
	})

	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	return g.Wait()
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.touch()

		p, err := Decode(string(data))
		if err != nil {
			c.log.WithField("event", "SOCKET_BAD_FRAME").WithError(err).Debug("ignoring frame")
			continue
		}

		switch p.Kind {
		case KindPing:
			if err := c.writeFrame(conn, FramePong); err != nil {
				return err
			}
		case KindEvent:
			c.Dispatch(p.Event, p.Data)
		case KindClose, KindDisconnect:
			return ErrServerDisconnect
		case KindConnectError:
			return &ConnectError{Message: ConnectErrorMessage(p.Data)}
		}
	}
}

// keepalive fails the connection when the server misses its ping window.
func (c *Client) keepalive(ctx context.Context, hs Handshake) error {
	window := hs.PingInterval + hs.PingTimeout
	if window <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(window / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c.sinceSeen() > window {
				return ErrPingTimeout
			}
		}
	}
}

var _ stream.Channel = (*Client)(nil)
