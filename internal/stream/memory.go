// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jeranaias/luna-tui/internal/protocol"
)

// Memory is an in-process Channel. It records every sent turn and lets the
// caller play the server side with Emit. Used by tests and the offline demo.
type Memory struct {
	*Hub

	mu      sync.Mutex
	sent    []protocol.Turn
	sendErr error
	onSend  func(protocol.Turn)
}

// NewMemory creates an empty in-process channel.
func NewMemory() *Memory {
	return &Memory{Hub: NewHub()}
}

// Send records the turn. When a send error is configured the turn's
// transport error event is raised instead.
func (m *Memory) Send(ctx context.Context, turn protocol.Turn) {
	m.mu.Lock()
	err := m.sendErr
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil {
		m.sent = append(m.sent, turn)
	}
	onSend := m.onSend
	m.mu.Unlock()

	if err != nil {
		m.Dispatch(protocol.TransportErrorEvent(turn.ID), EncodeFault("send", err))
		return
	}
	if onSend != nil {
		onSend(turn)
	}
}

// FailSends makes every following Send fail with err. Pass nil to restore.
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// OnSend installs a hook run after each successful Send, outside the lock.
// The mock responder uses it to script a reply.
func (m *Memory) OnSend(fn func(protocol.Turn)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSend = fn
}

// Sent returns a copy of the recorded turns.
func (m *Memory) Sent() []protocol.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Turn, len(m.sent))
	copy(out, m.sent)
	return out
}

// Emit delivers a server event with v marshaled as its payload.
func (m *Memory) Emit(event string, v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return m.Dispatch(event, data), nil
}

// EmitChunk delivers one chunk for a turn.
func (m *Memory) EmitChunk(id, chunk string) int {
	n, _ := m.Emit(protocol.ChunkEvent(id), protocol.Chunk{Chunk: chunk})
	return n
}

// EmitSources delivers the metadata event for a turn.
func (m *Memory) EmitSources(id string, sources protocol.Sources) int {
	n, _ := m.Emit(protocol.SourcesEvent(id), protocol.SourcesPayload{Sources: sources})
	return n
}

// EmitReply plays a full well-formed reply: start marker, chunks, end
// marker and metadata.
func (m *Memory) EmitReply(id string, chunks []string, sources protocol.Sources) {
	m.EmitChunk(id, protocol.MarkerStart)
	for _, c := range chunks {
		m.EmitChunk(id, c)
	}
	m.EmitChunk(id, protocol.MarkerEnd)
	m.EmitSources(id, sources)
}

// Drop simulates a lost connection.
func (m *Memory) Drop(err error) int {
	return m.FailAll("connection", err)
}

var _ Channel = (*Memory)(nil)
