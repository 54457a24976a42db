// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/session"
)

// Sender delivers messages to a running program. *tea.Program implements it.
type Sender interface {
	Send(msg tea.Msg)
}

// Sink turns session updates into tea messages. Send blocks until the
// program's event loop takes the message, so coordinator calls that render
// (Submit, Cancel) must run inside a tea.Cmd, never inside Update.
type Sink struct {
	mu     sync.RWMutex
	sender Sender
}

var _ session.Sink = (*Sink)(nil)

// NewSink creates a sink. Updates are dropped until Attach is called.
func NewSink() *Sink {
	return &Sink{}
}

// Attach connects the sink to a program.
func (s *Sink) Attach(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

func (s *Sink) send(msg tea.Msg) {
	s.mu.RLock()
	sender := s.sender
	s.mu.RUnlock()
	if sender != nil {
		sender.Send(msg)
	}
}

func (s *Sink) AppendOutgoing(id, text string) { s.send(OutgoingMsg{ID: id, Text: text}) }
func (s *Sink) ShowTyping(id string) { s.send(TypingMsg{ID: id}) }
func (s *Sink) AttachResponse(id string) { s.send(AttachMsg{ID: id}) }
func (s *Sink) UpdateResponse(id, markup string) {
	s.send(ResponseMsg{ID: id, Markup: markup})
}
func (s *Sink) AppendMetadata(id string, meta protocol.Sources, markup string) {
	s.send(MetadataMsg{ID: id, Sources: meta, Markup: markup})
}
func (s *Sink) ShowError(id string, err error) { s.send(TurnErrorMsg{ID: id, Err: err}) }
func (s *Sink) SetInputEnabled(enabled bool) { s.send(InputEnabledMsg{Enabled: enabled}) }
