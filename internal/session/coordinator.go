// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/luna-tui/internal/format"
	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/stream"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// DefaultIdleTimeout fails a turn after this long without server activity.
const DefaultIdleTimeout = 60 * time.Second

// Config holds configuration for the coordinator.
type Config struct {
	// Room is the target room of outgoing turns.
	Room string

	// Sender identifies the user on the server.
	Sender string

	// InternetSearch asks the server to search the web for the answer.
	InternetSearch bool

	// ConversationID continues a server-side conversation (empty starts one).
	ConversationID string

	// IdleTimeout fails a stalled turn (default: 60s, negative disables).
	IdleTimeout time.Duration

	// Formatter renders turn text (default: format.Default()).
	Formatter *format.Formatter

	// Logger receives turn lifecycle events (default: logrus standard logger).
	Logger logrus.FieldLogger

	// NewID generates turn ids (default: "msg-" + random UUID).
	NewID func() string
}

// NewTurnID returns a fresh turn id.
func NewTurnID() string {
	return "msg-" + uuid.NewString()
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator creates one MessageSession per submitted message and enforces
// that at most one is live. A second Submit while a turn is in progress is
// rejected, never queued.
type Coordinator struct {
	mu     sync.Mutex
	cfg    Config
	active *MessageSession
	last   *MessageSession

	channel stream.Channel
	sink    Sink
	lock    *InputLock
	log     logrus.FieldLogger
}

// NewCoordinator creates a coordinator sending over channel and rendering to
// sink.
func NewCoordinator(channel stream.Channel, sink Sink, cfg Config) *Coordinator {
	if sink == nil {
		sink = NopSink{}
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Formatter == nil {
		cfg.Formatter = format.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.NewID == nil {
		cfg.NewID = NewTurnID
	}
	return &Coordinator{
		cfg:     cfg,
		channel: channel,
		sink:    sink,
		lock:    NewInputLock(sink),
		log:     cfg.Logger,
	}
}

// Submit starts a turn for text. Text is trimmed and NFC-normalized; empty
// text is dropped silently (nil, nil). While a turn is live it fails with
// ErrAlreadyLocked and nothing reaches the sink or the channel.
//
// A subscribe failure returns the Failed session together with its
// TransportError. Send failures arrive later as the turn's transport error.
func (c *Coordinator) Submit(ctx context.Context, text string) (*MessageSession, error) {
	text = norm.NFC.String(strings.TrimSpace(text))
	if text == "" {
		return nil, nil
	}

	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	id := cfg.NewID()
	if err := c.lock.Acquire(id); err != nil {
		c.log.WithFields(logrus.Fields{
			"event":  "SUBMIT_REJECTED",
			"holder": c.lock.Holder(),
		}).Debug("turn already in progress")
		return nil, err
	}

	s := newMessageSession(id, text, sessionDeps{
		channel:   c.channel,
		sink:      c.sink,
		formatter: cfg.Formatter,
		lock:      c.lock,
		log:       c.log,
		idle:      cfg.IdleTimeout,
		onEnd:     c.sessionEnded,
	})

	c.mu.Lock()
	c.active = s
	c.last = s
	c.mu.Unlock()

	c.sink.AppendOutgoing(id, text)
	c.sink.ShowTyping(id)

	if err := s.subscribe(); err != nil {
		terr := &TransportError{SessionID: id, Op: "subscribe", Cause: err}
		s.fail(terr)
		return s, terr
	}

	c.log.WithFields(logrus.Fields{
		"event":  "TURN_SUBMIT",
		"room":   cfg.Room,
		"search": cfg.InternetSearch,
		"chars":  len(text),
	}).WithField("session_id", id).Info("sending turn")

	c.channel.Send(ctx, protocol.Turn{
		Text:           text,
		Room:           cfg.Room,
		Sender:         cfg.Sender,
		InternetSearch: cfg.InternetSearch,
		ID:             id,
		ConversationID: cfg.ConversationID,
	})
	return s, nil
}

func (c *Coordinator) sessionEnded(s *MessageSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == s {
		c.active = nil
	}
}

// Cancel abandons the live turn. Returns ErrNoActiveSession if none.
func (c *Coordinator) Cancel() error {
	s := c.Active()
	if s == nil || !s.Cancel() {
		return ErrNoActiveSession
	}
	return nil
}

// Active returns the live turn, or nil.
func (c *Coordinator) Active() *MessageSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Last returns the most recent turn, live or not.
func (c *Coordinator) Last() *MessageSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Wait blocks until s is terminal or ctx is done, and returns the turn's
// failure cause (nil when Complete).
func (c *Coordinator) Wait(ctx context.Context, s *MessageSession) error {
	if s == nil {
		return nil
	}
	select {
	case <-s.Done():
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Locked reports whether input is locked by a live turn.
func (c *Coordinator) Locked() bool {
	return c.lock.Locked()
}

// Close cancels the live turn, if any.
func (c *Coordinator) Close() {
	_ = c.Cancel()
}

// =============================================================================
// SETTINGS
// =============================================================================

// Room returns the target room.
func (c *Coordinator) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Room
}

// SetRoom changes the target room of later turns.
func (c *Coordinator) SetRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Room = room
}

// InternetSearch reports whether later turns request a web search.
func (c *Coordinator) InternetSearch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.InternetSearch
}

// SetInternetSearch toggles the web search flag of later turns.
func (c *Coordinator) SetInternetSearch(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.InternetSearch = on
}

// ConversationID returns the conversation later turns continue.
func (c *Coordinator) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.ConversationID
}

// SetConversationID sets the conversation later turns continue. The server
// announces new ids with the new_conversation_id event.
func (c *Coordinator) SetConversationID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.ConversationID = id
}

// SetIdleTimeout changes the idle timeout of later turns.
func (c *Coordinator) SetIdleTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.IdleTimeout = d
}

// Sender returns the configured sender.
func (c *Coordinator) Sender() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Sender
}
