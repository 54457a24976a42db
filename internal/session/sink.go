// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"

	"github.com/jeranaias/luna-tui/internal/protocol"
)

// =============================================================================
// RENDER SINK
// =============================================================================

// Sink is the render surface a turn pushes updates to. Calls for one turn
// arrive in order; implementations must not call back into the session
// synchronously.
type Sink interface {
	// AppendOutgoing shows the user's message.
	AppendOutgoing(id, text string)

	// ShowTyping shows a placeholder until the response starts.
	ShowTyping(id string)

	// AttachResponse replaces the placeholder with an empty response container.
	AttachResponse(id string)

	// UpdateResponse replaces the response container's content.
	UpdateResponse(id, markup string)

	// AppendMetadata appends the rendered sources block.
	AppendMetadata(id string, meta protocol.Sources, markup string)

	// ShowError shows an error in place of the response.
	ShowError(id string, err error)

	// SetInputEnabled enables or disables the input control.
	SetInputEnabled(enabled bool)
}

// NopSink discards every call.
type NopSink struct{}

func (NopSink) AppendOutgoing(string, string)                   {}
func (NopSink) ShowTyping(string)                               {}
func (NopSink) AttachResponse(string)                           {}
func (NopSink) UpdateResponse(string, string)                   {}
func (NopSink) AppendMetadata(string, protocol.Sources, string) {}
func (NopSink) ShowError(string, error)                         {}
func (NopSink) SetInputEnabled(bool)                            {}

// =============================================================================
// RECORDER
// =============================================================================

// Call is one recorded sink invocation.
type Call struct {
	Method  string
	ID      string
	Text    string
	Meta    protocol.Sources
	Err     error
	Enabled bool
}

// Recorder is a Sink that records every call. Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *Recorder) AppendOutgoing(id, text string) {
	r.record(Call{Method: "AppendOutgoing", ID: id, Text: text})
}

func (r *Recorder) ShowTyping(id string) {
	r.record(Call{Method: "ShowTyping", ID: id})
}

func (r *Recorder) AttachResponse(id string) {
	r.record(Call{Method: "AttachResponse", ID: id})
}

func (r *Recorder) UpdateResponse(id, markup string) {
	r.record(Call{Method: "UpdateResponse", ID: id, Text: markup})
}

func (r *Recorder) AppendMetadata(id string, meta protocol.Sources, markup string) {
	r.record(Call{Method: "AppendMetadata", ID: id, Meta: meta, Text: markup})
}

func (r *Recorder) ShowError(id string, err error) {
	r.record(Call{Method: "ShowError", ID: id, Err: err})
}

func (r *Recorder) SetInputEnabled(enabled bool) {
	r.record(Call{Method: "SetInputEnabled", Enabled: enabled})
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Methods returns the recorded method names in order.
func (r *Recorder) Methods() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// Find returns the recorded calls of one method.
func (r *Recorder) Find(method string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

var (
	_ Sink = NopSink{}
	_ Sink = (*Recorder)(nil)
)
