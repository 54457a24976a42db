// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package room manages chat room membership and the channel list over a
// Socket.IO connection.
//
// The server answers join with joined_room and both get_channels and
// create_channel with channels. Leave has no reply.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/luna-tui/internal/protocol"
)

// ErrEmptyName is returned for a blank room or channel name.
var ErrEmptyName = errors.New("room: empty name")

// Conn is the part of the Socket.IO client rooms need.
type Conn interface {
	Emit(ctx context.Context, event string, v any) error
	Request(ctx context.Context, event string, v any, reply string) (json.RawMessage, error)
}

// Manager tracks the joined room for one user.
type Manager struct {
	conn Conn
	user string
	log  logrus.FieldLogger

	mu      sync.Mutex
	current string
}

// NewManager creates a room manager for user.
func NewManager(conn Conn, user string, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		conn: conn,
		user: user,
		log:  log.WithField("component", "room"),
	}
}

// Current returns the joined room, or "".
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Join leaves the current room, if different, and joins room.
func (m *Manager) Join(ctx context.Context, room string) (protocol.JoinedRoom, error) {
	if room == "" {
		return protocol.JoinedRoom{}, ErrEmptyName
	}
	if prev := m.Current(); prev != "" && prev != room {
		if err := m.Leave(ctx); err != nil {
			return protocol.JoinedRoom{}, err
		}
	}

	raw, err := m.conn.Request(ctx, protocol.EventJoin,
		protocol.JoinRequest{Username: m.user, Room: room}, protocol.EventJoinedRoom)
	if err != nil {
		return protocol.JoinedRoom{}, fmt.Errorf("join %s: %w", room, err)
	}
	var joined protocol.JoinedRoom
	if err := json.Unmarshal(raw, &joined); err != nil {
		return protocol.JoinedRoom{}, fmt.Errorf("decode joined_room: %w", err)
	}

	m.mu.Lock()
	m.current = room
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"event": "ROOM_JOINED",
		"room":  room,
	}).Info("joined room")
	return joined, nil
}

// Leave leaves the current room. It is a no-op outside a room.
func (m *Manager) Leave(ctx context.Context) error {
	room := m.Current()
	if room == "" {
		return nil
	}
	if err := m.conn.Emit(ctx, protocol.EventLeave, protocol.JoinRequest{Username: m.user, Room: room}); err != nil {
		return fmt.Errorf("leave %s: %w", room, err)
	}
	m.mu.Lock()
	if m.current == room {
		m.current = ""
	}
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"event": "ROOM_LEFT",
		"room":  room,
	}).Info("left room")
	return nil
}

// Rejoin joins the current room again, for use after a reconnect.
func (m *Manager) Rejoin(ctx context.Context) error {
	room := m.Current()
	if room == "" {
		return nil
	}
	m.mu.Lock()
	m.current = ""
	m.mu.Unlock()
	_, err := m.Join(ctx, room)
	return err
}

// Channels fetches the channel list.
func (m *Manager) Channels(ctx context.Context) ([]string, error) {
	raw, err := m.conn.Request(ctx, protocol.EventGetChannels,
		protocol.ChannelsRequest{Username: m.user}, protocol.EventChannels)
	if err != nil {
		return nil, fmt.Errorf("get channels: %w", err)
	}
	var channels protocol.Channels
	if err := json.Unmarshal(raw, &channels); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	return channels, nil
}

// Create asks the server to add a channel and returns the normalized name
// and the refreshed channel list. Creating an existing channel is not an
// error.
func (m *Manager) Create(ctx context.Context, name string) (string, []string, error) {
	name = protocol.NormalizeChannelName(name)
	if name == "" {
		return "", nil, ErrEmptyName
	}
	if err := m.conn.Emit(ctx, protocol.EventCreateChannel,
		protocol.CreateChannelRequest{Username: m.user, NewChannelName: name}); err != nil {
		return "", nil, fmt.Errorf("create channel %s: %w", name, err)
	}
	channels, err := m.Channels(ctx)
	if err != nil {
		return name, nil, err
	}

	m.log.WithFields(logrus.Fields{
		"event":   "CHANNEL_CREATED",
		"channel": name,
	}).Info("channel created")
	return name, channels, nil
}
