// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/luna-tui/internal/protocol"
)

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

// conversation keeps a room's conversations in creation order.
type conversation struct {
	order    []string
	messages map[string][]protocol.RoomMessage
}

// Store holds the mock server's channels, chat history, uploads and saved
// responses. Nothing is written to disk.
type Store struct {
	mu       sync.RWMutex
	channels []string
	history  map[string]map[string]*conversation
	uploads  []string
	saved    map[string]string
}

// NewStore creates a store with the given channels.
func NewStore(channels []string) *Store {
	return &Store{
		channels: append([]string(nil), channels...),
		history:  make(map[string]map[string]*conversation),
		saved:    make(map[string]string),
	}
}

// Channels returns the channel list.
func (s *Store) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.channels...)
}

// AddChannel adds a normalized channel. Returns false if it already exists.
func (s *Store) AddChannel(name string) bool {
	name = protocol.NormalizeChannelName(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.channels {
		if c == name {
			return false
		}
	}
	s.channels = append(s.channels, name)
	return true
}

func (s *Store) room(user, room string) *conversation {
	rooms, ok := s.history[user]
	if !ok {
		rooms = make(map[string]*conversation)
		s.history[user] = rooms
	}
	conv, ok := rooms[room]
	if !ok {
		conv = &conversation{messages: make(map[string][]protocol.RoomMessage)}
		rooms[room] = conv
	}
	return conv
}

// EnsureRoom creates the user's history entry for room.
func (s *Store) EnsureRoom(user, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(user, room)
}

// Conversation returns id if it exists for the user and room, or starts a
// new conversation. The second result reports whether one was created.
func (s *Store) Conversation(user, room, id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.room(user, room)
	if id != "" {
		if _, ok := conv.messages[id]; !ok {
			conv.order = append(conv.order, id)
			conv.messages[id] = nil
		}
		return id, false
	}
	id = uuid.NewString()
	conv.order = append(conv.order, id)
	conv.messages[id] = nil
	return id, true
}

// Append adds a message to a conversation.
func (s *Store) Append(user, room, id string, msg protocol.RoomMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.room(user, room)
	if _, ok := conv.messages[id]; !ok {
		conv.order = append(conv.order, id)
	}
	conv.messages[id] = append(conv.messages[id], msg)
}

// Conversations returns room -> conversation ids for a user.
func (s *Store) Conversations(user string) map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string)
	for room, conv := range s.history[user] {
		out[room] = append([]string{}, conv.order...)
	}
	return out
}

// History returns the messages of one conversation.
func (s *Store) History(user, room, id string) []protocol.RoomMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.history[user][room]
	if !ok {
		return []protocol.RoomMessage{}
	}
	return append([]protocol.RoomMessage{}, conv.messages[id]...)
}

// AddUpload records an uploaded file name.
func (s *Store) AddUpload(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, name)
}

// Uploads returns the uploaded file names.
func (s *Store) Uploads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.uploads...)
}

// SaveResponse stores content for a user and room.
func (s *Store) SaveResponse(user, room, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[user+"_"+room] = content
}

// Saved returns the stored content for a user and room.
func (s *Store) Saved(user, room string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.saved[user+"_"+room]
	return content, ok
}
