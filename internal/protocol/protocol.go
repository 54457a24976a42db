// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the event names and payloads exchanged with the
// Luna chat server.
package protocol

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// EVENT NAMES
// =============================================================================

const (
	// EventMessage carries an outgoing user turn.
	EventMessage = "message"

	// ChunkPrefix prefixes the per-turn chunk event name.
	ChunkPrefix = "message_chunk_"

	// SourcesSuffix is appended to the chunk event name for the metadata event.
	SourcesSuffix = "_sources"

	// TransportErrorPrefix prefixes the local transport error event. It never
	// crosses the wire; channels raise it themselves.
	TransportErrorPrefix = "transport_error_"

	// Room management events.
	EventJoin              = "join"
	EventJoinedRoom        = "joined_room"
	EventLeave             = "leave"
	EventGetChannels       = "get_channels"
	EventChannels          = "channels"
	EventCreateChannel     = "create_channel"
	EventNewConversationID = "new_conversation_id"
)

// Reserved chunk values.
const (
	MarkerStart = "response_start"
	MarkerEnd   = "response_end"
)

// ChunkEvent returns the chunk event name for a turn.
func ChunkEvent(id string) string {
	return ChunkPrefix + id
}

// SourcesEvent returns the metadata event name for a turn.
func SourcesEvent(id string) string {
	return ChunkPrefix + id + SourcesSuffix
}

// TransportErrorEvent returns the local transport error event name for a turn.
func TransportErrorEvent(id string) string {
	return TransportErrorPrefix + id
}

// TurnIDFromErrorEvent extracts the turn id from a transport error event name.
func TurnIDFromErrorEvent(event string) (string, bool) {
	if !strings.HasPrefix(event, TransportErrorPrefix) {
		return "", false
	}
	return strings.TrimPrefix(event, TransportErrorPrefix), true
}

// =============================================================================
// PAYLOADS
// =============================================================================

// Turn is the outgoing envelope for one user message.
type Turn struct {
	Text           string `json:"msg"`
	Room           string `json:"room"`
	Sender         string `json:"sender"`
	InternetSearch bool   `json:"internetSearch"`
	ID             string `json:"messageId"`

	// ConversationID continues an existing conversation. Empty asks the
	// server to start one and announce it with new_conversation_id.
	ConversationID string `json:"conversation_id,omitempty"`
}

// Chunk is the payload of a chunk event.
type Chunk struct {
	Chunk string `json:"chunk"`
}

// IsStart reports whether the chunk is the start marker.
func (c Chunk) IsStart() bool { return c.Chunk == MarkerStart }

// IsEnd reports whether the chunk is the end marker.
func (c Chunk) IsEnd() bool { return c.Chunk == MarkerEnd }

// SourceRef is the structured payload for one reference.
type SourceRef struct {
	Pages []int `json:"pages"`
}

// Sources maps a reference key (usually a URL or path) to its payload.
type Sources map[string]SourceRef

// SourcesPayload is the payload of the metadata event.
type SourcesPayload struct {
	Sources Sources `json:"sources"`
}

// Keys returns the reference keys in a stable order.
func (s Sources) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PagesLabel renders the page list as "1, 2". Empty when there are no pages.
func (r SourceRef) PagesLabel() string {
	if len(r.Pages) == 0 {
		return ""
	}
	parts := make([]string, len(r.Pages))
	for i, p := range r.Pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ")
}

// JoinRequest is sent with join and leave.
type JoinRequest struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// JoinedRoom acknowledges a join.
type JoinedRoom struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// ChannelsRequest is sent with get_channels.
type ChannelsRequest struct {
	Username string `json:"username"`
}

// CreateChannelRequest is sent with create_channel.
type CreateChannelRequest struct {
	Username       string `json:"username"`
	NewChannelName string `json:"newChannelName"`
}

// Channels is the payload of the channels event.
type Channels []string

// NormalizeChannelName applies the server's channel naming rule: lower
// case, spaces replaced by underscores.
func NormalizeChannelName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Well-known RoomMessage senders and the timestamp layout the server uses.
const (
	SenderSystem    = "System"
	SenderAssistant = "Luna Assistant"
	TimestampLayout = "2006-01-02 15:04:05"
)

// Time parses the message timestamp. The zero time is returned for
// missing or malformed timestamps.
func (m RoomMessage) Time() time.Time {
	t, err := time.ParseInLocation(TimestampLayout, m.Timestamp, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsSystem reports whether the message is a server notice.
func (m RoomMessage) IsSystem() bool {
	return m.Sender == SenderSystem
}

// RoomMessage is the broadcast the server sends with the default "message"
// event (join notices and placeholder assistant entries).
type RoomMessage struct {
	Msg       string `json:"msg"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	MessageID string `json:"message_id,omitempty"`
}
