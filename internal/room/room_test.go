// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package room

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/server"
	"github.com/jeranaias/luna-tui/internal/socketio"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeConn records emits and answers requests from a table.
type fakeConn struct {
	emits   []string
	replies map[string]string
	err     error
}

func (f *fakeConn) Emit(_ context.Context, event string, _ any) error {
	if f.err != nil {
		return f.err
	}
	f.emits = append(f.emits, event)
	return nil
}

func (f *fakeConn) Request(ctx context.Context, event string, v any, reply string) (json.RawMessage, error) {
	if err := f.Emit(ctx, event, v); err != nil {
		return nil, err
	}
	raw, ok := f.replies[reply]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return json.RawMessage(raw), nil
}

func TestManager_JoinSwitchesRooms(t *testing.T) {
	conn := &fakeConn{replies: map[string]string{
		protocol.EventJoinedRoom: `{"username":"ana","room":"research"}`,
	}}
	m := NewManager(conn, "ana", quietLogger())

	_, err := m.Join(context.Background(), "general")
	require.NoError(t, err)
	assert.Equal(t, "general", m.Current())

	joined, err := m.Join(context.Background(), "research")
	require.NoError(t, err)
	assert.Equal(t, "research", joined.Room)
	assert.Equal(t, []string{"join", "leave", "join"}, conn.emits)
}

func TestManager_JoinSameRoomDoesNotLeave(t *testing.T) {
	conn := &fakeConn{replies: map[string]string{protocol.EventJoinedRoom: `{}`}}
	m := NewManager(conn, "ana", nil)

	_, _ = m.Join(context.Background(), "general")
	_, _ = m.Join(context.Background(), "general")
	assert.Equal(t, []string{"join", "join"}, conn.emits)
}

func TestManager_Errors(t *testing.T) {
	m := NewManager(&fakeConn{}, "ana", quietLogger())

	_, err := m.Join(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyName)

	_, _, err = m.Create(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyName)

	assert.NoError(t, m.Leave(context.Background()), "leave outside a room")

	boom := errors.New("boom")
	failing := NewManager(&fakeConn{err: boom}, "ana", quietLogger())
	_, err = failing.Channels(context.Background())
	assert.ErrorIs(t, err, boom)

	bad := NewManager(&fakeConn{replies: map[string]string{protocol.EventChannels: `{"not":"a list"}`}}, "ana", quietLogger())
	_, err = bad.Channels(context.Background())
	assert.Error(t, err)
}

func TestManager_AgainstServer(t *testing.T) {
	srv := server.New(server.Config{Logger: quietLogger(), PingInterval: time.Second})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.CloseSockets()

	c := socketio.New(socketio.Config{URL: ts.URL, Logger: quietLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	m := NewManager(c, "ana", quietLogger())

	joined, err := m.Join(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, protocol.JoinedRoom{Username: "ana", Room: "general"}, joined)

	channels, err := m.Channels(ctx)
	require.NoError(t, err)
	assert.Equal(t, server.DefaultChannels, channels)

	name, channels, err := m.Create(ctx, "Side Project")
	require.NoError(t, err)
	assert.Equal(t, "side_project", name)
	assert.Contains(t, channels, "side_project")

	require.NoError(t, m.Rejoin(ctx))
	assert.Equal(t, "general", m.Current())

	require.NoError(t, m.Leave(ctx))
	assert.Empty(t, m.Current())
	assert.Contains(t, srv.Store().Conversations("ana"), "general", "leave keeps history")
}
