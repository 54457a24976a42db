// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream abstracts the bidirectional event transport so turn
// handling never talks to the wire directly.
//
// A Channel sends outgoing turns and hands out explicit subscription
// handles for named events. Every handle must be given back through
// Unsubscribe once the owner is done with it; the Hub counts live handlers
// so tests can assert nothing accumulates across turns.
//
// Ordering: a Channel delivers the events of one connection in the order
// the server sent them. Delivery itself is not guaranteed - a dropped
// connection loses events silently apart from the transport error raised
// for every turn still listening.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/jeranaias/luna-tui/internal/protocol"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Handler receives the raw JSON payload of an event.
type Handler func(payload json.RawMessage)

// Subscription is an opaque handle returned by Subscribe.
type Subscription struct {
	event string
	id    uint64
}

// Event returns the event name the subscription listens to.
func (s Subscription) Event() string { return s.event }

// Valid reports whether the handle came from Subscribe.
func (s Subscription) Valid() bool { return s.id != 0 }

// Channel is the transport seen by a turn.
type Channel interface {
	// Send transmits the turn. It does not report failure directly: a send
	// failure is raised as the turn's transport error event.
	Send(ctx context.Context, turn protocol.Turn)

	// Subscribe registers a handler for a named event.
	Subscribe(event string, h Handler) (Subscription, error)

	// Unsubscribe disposes a handle. Unknown or repeated handles are ignored.
	Unsubscribe(sub Subscription)
}

// ErrClosed is returned by Subscribe on a closed channel.
var ErrClosed = errors.New("stream: channel closed")

// =============================================================================
// TRANSPORT ERROR PAYLOAD
// =============================================================================

// TransportFault is the payload of a local transport error event.
type TransportFault struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}

// EncodeFault builds the payload raised for a transport failure.
func EncodeFault(op string, err error) json.RawMessage {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	data, _ := json.Marshal(TransportFault{Op: op, Message: msg})
	return data
}

// =============================================================================
// HUB
// =============================================================================

// Hub is the subscription registry and dispatcher shared by Channel
// implementations. It is safe for concurrent use; handlers run on the
// dispatching goroutine, outside the hub lock, in registration order.
type Hub struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
	closed   bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{handlers: make(map[string]map[uint64]Handler)}
}

// Subscribe registers h for event.
func (h *Hub) Subscribe(event string, fn Handler) (Subscription, error) {
	if fn == nil {
		return Subscription{}, errors.New("stream: nil handler")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return Subscription{}, ErrClosed
	}
	h.nextID++
	byID, ok := h.handlers[event]
	if !ok {
		byID = make(map[uint64]Handler)
		h.handlers[event] = byID
	}
	byID[h.nextID] = fn
	return Subscription{event: event, id: h.nextID}, nil
}

// Unsubscribe removes a handler. Idempotent.
func (h *Hub) Unsubscribe(sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byID, ok := h.handlers[sub.event]
	if !ok {
		return
	}
	delete(byID, sub.id)
	if len(byID) == 0 {
		delete(h.handlers, sub.event)
	}
}

// Dispatch delivers payload to every handler of event and returns how many
// handlers ran.
func (h *Hub) Dispatch(event string, payload json.RawMessage) int {
	fns := h.snapshot(event)
	for _, fn := range fns {
		fn(payload)
	}
	return len(fns)
}

func (h *Hub) snapshot(event string) []Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	byID := h.handlers[event]
	if len(byID) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Handler, len(ids))
	for i, id := range ids {
		fns[i] = byID[id]
	}
	return fns
}

// FailAll raises a transport error for every turn with a live transport
// error subscription. Used when the connection is lost.
func (h *Hub) FailAll(op string, err error) int {
	h.mu.Lock()
	var events []string
	for event := range h.handlers {
		if _, ok := protocol.TurnIDFromErrorEvent(event); ok {
			events = append(events, event)
		}
	}
	h.mu.Unlock()

	sort.Strings(events)
	payload := EncodeFault(op, err)
	n := 0
	for _, event := range events {
		n += h.Dispatch(event, payload)
	}
	return n
}

// Len returns the number of live handlers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, byID := range h.handlers {
		n += len(byID)
	}
	return n
}

// events returns the event names with at least one live handler.
func (h *Hub) events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]string, 0, len(h.handlers))
	for event := range h.handlers {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

// Close drops every handler and rejects further subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.handlers = make(map[string]map[uint64]Handler)
}
