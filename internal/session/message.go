// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/luna-tui/internal/format"
	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/stream"
)

// =============================================================================
// MESSAGE SESSION
// =============================================================================

// MessageSession is the state machine for one turn.
//
// Events may arrive from the transport goroutine, the watchdog timer and the
// UI goroutine. evMu serializes whole event handlers, sink calls included,
// so the sink sees one turn's updates in order. mu only guards fields for
// readers, so a sink may query the session while an event is in flight.
type MessageSession struct {
	evMu sync.Mutex
	mu   sync.Mutex

	id        string
	text      string
	status    Status
	buffer    strings.Builder
	rendered  string
	metadata  protocol.Sources
	err       error
	renders   int
	createdAt time.Time
	endedAt   time.Time

	subs     []stream.Subscription
	done     chan struct{}
	watchdog *Watchdog

	channel   stream.Channel
	sink      Sink
	formatter *format.Formatter
	lock      *InputLock
	log       logrus.FieldLogger
	onEnd     func(*MessageSession)
}

type sessionDeps struct {
	channel   stream.Channel
	sink      Sink
	formatter *format.Formatter
	lock      *InputLock
	log       logrus.FieldLogger
	idle      time.Duration
	onEnd     func(*MessageSession)
}

func newMessageSession(id, text string, deps sessionDeps) *MessageSession {
	s := &MessageSession{
		id:        id,
		text:      text,
		status:    Pending,
		createdAt: time.Now(),
		done:      make(chan struct{}),
		channel:   deps.channel,
		sink:      deps.sink,
		formatter: deps.formatter,
		lock:      deps.lock,
		onEnd:     deps.onEnd,
	}
	if s.sink == nil {
		s.sink = NopSink{}
	}
	if s.formatter == nil {
		s.formatter = format.Default()
	}
	log := deps.log
	if log == nil {
		log = logrus.StandardLogger()
	}
	s.log = log.WithField("session_id", id)
	s.watchdog = NewWatchdog(deps.idle, func(idle time.Duration) {
		s.fail(&TimeoutError{SessionID: s.id, Idle: idle})
	})
	return s
}

// ID returns the turn id.
func (s *MessageSession) ID() string { return s.id }

// Text returns the submitted user text.
func (s *MessageSession) Text() string { return s.text }

// Status returns the current status.
func (s *MessageSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Buffer returns the accumulated raw text.
func (s *MessageSession) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.String()
}

// Rendered returns the last markup handed to the sink.
func (s *MessageSession) Rendered() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered
}

// Metadata returns the sources, present once the turn is Complete.
func (s *MessageSession) Metadata() protocol.Sources {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata
}

// Err returns the failure cause of a Failed turn.
func (s *MessageSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Renders returns how many times the response was re-rendered.
func (s *MessageSession) Renders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renders
}

// Elapsed returns the time from submit to the terminal state (or now).
func (s *MessageSession) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		return time.Since(s.createdAt)
	}
	return s.endedAt.Sub(s.createdAt)
}

// IdleRemaining returns how long the turn may stay silent before it times
// out, or 0 when no timeout is pending.
func (s *MessageSession) IdleRemaining() time.Duration {
	return s.watchdog.RemainingTime()
}

// Done is closed when the turn reaches a terminal state.
func (s *MessageSession) Done() <-chan struct{} { return s.done }

// Subscriptions returns the number of live subscriptions the turn holds.
func (s *MessageSession) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// =============================================================================
// WIRING
// =============================================================================

// subscribe registers the chunk, metadata and transport error handlers.
// On failure every handle taken so far is given back.
func (s *MessageSession) subscribe() error {
	handlers := []struct {
		event string
		fn    stream.Handler
	}{
		{protocol.ChunkEvent(s.id), s.handleChunk},
		{protocol.SourcesEvent(s.id), s.handleSources},
		{protocol.TransportErrorEvent(s.id), s.handleTransportError},
	}

	subs := make([]stream.Subscription, 0, len(handlers))
	for _, h := range handlers {
		sub, err := s.channel.Subscribe(h.event, h.fn)
		if err != nil {
			for _, taken := range subs {
				s.channel.Unsubscribe(taken)
			}
			return fmt.Errorf("subscribe %s: %w", h.event, err)
		}
		subs = append(subs, sub)
	}

	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()
	s.watchdog.Start()
	return nil
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

func (s *MessageSession) handleChunk(payload json.RawMessage) {
	s.evMu.Lock()
	defer s.evMu.Unlock()

	var c protocol.Chunk
	if err := json.Unmarshal(payload, &c); err != nil {
		s.failLocked(&ProtocolViolationError{SessionID: s.id, Status: s.Status(), Event: "malformed chunk", Cause: err})
		return
	}

	switch {
	case c.IsStart():
		s.startMarker()
	case c.IsEnd():
		s.endMarker()
	default:
		s.appendText(c.Chunk)
	}
}

func (s *MessageSession) startMarker() {
	if !s.advance(Pending, Streaming, "start marker") {
		return
	}
	s.log.WithField("event", "TURN_START").Debug("response started")
	s.sink.AttachResponse(s.id)
}

func (s *MessageSession) endMarker() {
	if !s.advance(Streaming, AwaitingMetadata, "end marker") {
		return
	}

	// A fence opener held back while streaming is settled now that no more
	// text can follow it.
	s.mu.Lock()
	final := s.formatter.Finish(s.buffer.String())
	changed := final != s.rendered
	if changed {
		s.rendered = final
		s.renders++
	}
	s.mu.Unlock()
	if changed {
		s.sink.UpdateResponse(s.id, final)
	}

	s.log.WithFields(logrus.Fields{
		"event": "TURN_END",
		"bytes": len(s.Buffer()),
	}).Debug("response text complete")
}

func (s *MessageSession) appendText(chunk string) {
	s.mu.Lock()
	status := s.status
	if status.Terminal() {
		s.mu.Unlock()
		s.dropLate("text chunk")
		return
	}
	if status != Streaming {
		s.mu.Unlock()
		s.failLocked(&ProtocolViolationError{SessionID: s.id, Status: status, Event: "text chunk"})
		return
	}
	s.buffer.WriteString(chunk)
	s.rendered = s.formatter.Transform(s.buffer.String())
	s.renders++
	rendered := s.rendered
	s.mu.Unlock()

	s.watchdog.RecordActivity()
	s.sink.UpdateResponse(s.id, rendered)
}

func (s *MessageSession) handleSources(payload json.RawMessage) {
	s.evMu.Lock()
	defer s.evMu.Unlock()

	var p protocol.SourcesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.failLocked(&ProtocolViolationError{SessionID: s.id, Status: s.Status(), Event: "malformed sources", Cause: err})
		return
	}
	if p.Sources == nil {
		p.Sources = protocol.Sources{}
	}

	s.mu.Lock()
	status := s.status
	if status.Terminal() {
		s.mu.Unlock()
		s.dropLate("sources")
		return
	}
	if status != AwaitingMetadata {
		s.mu.Unlock()
		s.failLocked(&ProtocolViolationError{SessionID: s.id, Status: status, Event: "sources"})
		return
	}
	s.status = Complete
	s.metadata = p.Sources
	s.endedAt = time.Now()
	s.mu.Unlock()

	markup := s.formatter.SourcesMarkup(p.Sources)
	s.sink.AppendMetadata(s.id, p.Sources, markup)

	s.log.WithFields(logrus.Fields{
		"event":   "TURN_COMPLETE",
		"sources": len(p.Sources),
		"renders": s.Renders(),
		"elapsed": s.Elapsed().Round(time.Millisecond),
	}).Info("turn complete")
	s.finish()
}

func (s *MessageSession) handleTransportError(payload json.RawMessage) {
	var fault stream.TransportFault
	if err := json.Unmarshal(payload, &fault); err != nil {
		s.log.WithFields(logrus.Fields{
			"event": "TRANSPORT_FAULT_DECODE",
			"error": err,
		}).Debug("undecodable transport fault")
		s.fail(&TransportError{SessionID: s.id, Cause: err})
		return
	}
	s.fail(&TransportError{SessionID: s.id, Op: fault.Op, Message: fault.Message})
}

// Cancel abandons the turn.
func (s *MessageSession) Cancel() bool {
	return s.fail(ErrCancelled)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// advance moves from -> to. Any other current state is a violation, or a
// late event when the turn is already over.
func (s *MessageSession) advance(from, to Status, event string) bool {
	s.mu.Lock()
	status := s.status
	if status.Terminal() {
		s.mu.Unlock()
		s.dropLate(event)
		return false
	}
	if status != from || !canAdvance(from, to) {
		s.mu.Unlock()
		s.failLocked(&ProtocolViolationError{SessionID: s.id, Status: status, Event: event})
		return false
	}
	s.status = to
	s.mu.Unlock()

	s.watchdog.RecordActivity()
	return true
}

func (s *MessageSession) dropLate(event string) {
	s.log.WithFields(logrus.Fields{
		"event":  "TURN_LATE_EVENT",
		"status": s.Status().String(),
		"kind":   event,
	}).Debug("dropping event for finished turn")
}

// fail moves a live turn to Failed. Returns false if already terminal.
func (s *MessageSession) fail(err error) bool {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	return s.failLocked(err)
}

// failLocked is fail for callers already holding evMu.
func (s *MessageSession) failLocked(err error) bool {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return false
	}
	from := s.status
	s.status = Failed
	s.err = err
	s.endedAt = time.Now()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"event":  "TURN_FAILED",
		"status": from.String(),
	}).WithError(err).Warn("turn failed")

	s.sink.ShowError(s.id, err)
	s.finish()
	return true
}

// finish runs the shared terminal side effects: release the lock, dispose
// subscriptions, stop the watchdog and signal Done.
func (s *MessageSession) finish() {
	s.watchdog.Stop()
	if s.lock != nil {
		s.lock.ReleaseFor(s.id)
	}

	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		s.channel.Unsubscribe(sub)
	}

	close(s.done)
	if s.onEnd != nil {
		s.onEnd(s)
	}
}
