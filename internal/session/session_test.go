// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// HELPERS
// =============================================================================

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixture struct {
	ch    *stream.Memory
	sink  *Recorder
	coord *Coordinator
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	ch := stream.NewMemory()
	sink := &Recorder{}
	n := 0
	cfg := Config{
		Room:   "general",
		Sender: "ana",
		Logger: quietLogger(),
		NewID: func() string {
			n++
			return fmt.Sprintf("msg-%d", n)
		},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	coord := NewCoordinator(ch, sink, cfg)
	t.Cleanup(coord.Close)
	return &fixture{ch: ch, sink: sink, coord: coord}
}

func (f *fixture) submit(t *testing.T, text string) *MessageSession {
	t.Helper()
	s, err := f.coord.Submit(context.Background(), text)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestHelloScenario(t *testing.T) {
	f := newFixture(t)

	s := f.submit(t, "hello")
	assert.Equal(t, Pending, s.Status())
	assert.True(t, f.coord.Locked())
	require.Len(t, f.ch.Sent(), 1)
	assert.Equal(t, protocol.Turn{Text: "hello", Room: "general", Sender: "ana", ID: s.ID()}, f.ch.Sent()[0])

	f.ch.EmitChunk(s.ID(), protocol.MarkerStart)
	assert.Equal(t, Streaming, s.Status())
	assert.Len(t, f.sink.Find("AttachResponse"), 1)

	f.ch.EmitChunk(s.ID(), "Hi")
	f.ch.EmitChunk(s.ID(), " there")
	assert.Equal(t, "Hi there", s.Buffer())

	updates := f.sink.Find("UpdateResponse")
	require.Len(t, updates, 2)
	assert.Equal(t, "Hi", updates[0].Text)
	assert.Equal(t, "Hi there", updates[1].Text)

	f.ch.EmitChunk(s.ID(), protocol.MarkerEnd)
	assert.Equal(t, AwaitingMetadata, s.Status())
	assert.Equal(t, "Hi there", s.Buffer())

	f.ch.EmitSources(s.ID(), protocol.Sources{"docs/a.pdf": {Pages: []int{1, 2}}})
	assert.Equal(t, Complete, s.Status())
	assert.False(t, f.coord.Locked())
	assert.Equal(t, []int{1, 2}, s.Metadata()["docs/a.pdf"].Pages)

	meta := f.sink.Find("AppendMetadata")
	require.Len(t, meta, 1)
	assert.Contains(t, meta[0].Text, "pages: 1, 2")

	assert.Equal(t, []string{
		"SetInputEnabled",
		"AppendOutgoing",
		"ShowTyping",
		"AttachResponse",
		"UpdateResponse",
		"UpdateResponse",
		"AppendMetadata",
		"SetInputEnabled",
	}, f.sink.Methods())

	calls := f.sink.Calls()
	assert.False(t, calls[0].Enabled)
	assert.True(t, calls[len(calls)-1].Enabled)

	assert.Equal(t, 0, f.ch.Len())
	assert.Nil(t, f.coord.Active())
	assert.NoError(t, f.coord.Wait(context.Background(), s))
}

func TestUnterminatedBlockNeverLeaks(t *testing.T) {
	f := newFixture(t)
	s := f.submit(t, "code please")

	f.ch.EmitChunk(s.ID(), protocol.MarkerStart)
	f.ch.EmitChunk(s.ID(), "Here:\n")
	f.ch.EmitChunk(s.ID(), "```python\n")
	f.ch.EmitChunk(s.ID(), "# todo\nprint(1)\n")
	f.ch.EmitChunk(s.ID(), protocol.MarkerEnd)

	for _, c := range f.sink.Find("UpdateResponse") {
		assert.NotContains(t, c.Text, "```")
		assert.NotContains(t, c.Text, "<pre>")
	}
	assert.Equal(t, "Here:\n", s.Rendered())

	f.ch.EmitSources(s.ID(), nil)
	assert.Equal(t, Complete, s.Status())
	assert.False(t, f.coord.Locked())
}

func TestTransportErrorWhileStreaming(t *testing.T) {
	f := newFixture(t)
	s := f.submit(t, "hello")

	f.ch.EmitChunk(s.ID(), protocol.MarkerStart)
	f.ch.EmitChunk(s.ID(), "partial")
	f.ch.Drop(errors.New("connection reset"))

	assert.Equal(t, Failed, s.Status())
	assert.False(t, f.coord.Locked())

	var terr *TransportError
	require.ErrorAs(t, s.Err(), &terr)
	assert.Equal(t, "connection", terr.Op)
	assert.Contains(t, terr.Error(), "connection reset")

	errs := f.sink.Find("ShowError")
	require.Len(t, errs, 1)
	assert.Equal(t, s.ID(), errs[0].ID)

	// Late deliveries reach nobody.
	assert.Equal(t, 0, f.ch.EmitChunk(s.ID(), "late"))
	assert.Equal(t, "partial", s.Buffer())
	assert.Len(t, f.sink.Find("UpdateResponse"), 1)
	assert.Equal(t, 0, f.ch.Len())
}

func TestEndMarkerFlushesHeldOpener(t *testing.T) {
	f := newFixture(t)
	s := f.submit(t, "price?")

	f.ch.EmitChunk(s.ID(), protocol.MarkerStart)
	f.ch.EmitChunk(s.ID(), "costs 5```")
	assert.Equal(t, "costs 5", s.Rendered())

	f.ch.EmitChunk(s.ID(), protocol.MarkerEnd)
	assert.Equal(t, AwaitingMetadata, s.Status())
	assert.Equal(t, "costs 5```", s.Rendered())

	updates := f.sink.Find("UpdateResponse")
	require.Len(t, updates, 2)
	assert.Equal(t, "costs 5```", updates[1].Text)

	f.ch.EmitSources(s.ID(), nil)
	assert.Equal(t, Complete, s.Status())
}

func TestMalformedTransportFault(t *testing.T) {
	f := newFixture(t)
	s := f.submit(t, "hello")

	f.ch.EmitChunk(s.ID(), protocol.MarkerStart)
	f.ch.Dispatch(protocol.TransportErrorEvent(s.ID()), json.RawMessage(`{"op":`))

	assert.Equal(t, Failed, s.Status())
	assert.False(t, f.coord.Locked())

	var terr *TransportError
	require.ErrorAs(t, s.Err(), &terr)
	require.Error(t, terr.Cause)
	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, terr, &syntaxErr)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestBufferIsConcatenationOfChunks(t *testing.T) {
	cases := [][]string{
		{},
		{"a"},
		{"Hi", " there"},
		{"```py", "thon\nx = 1", "\n```", " done"},
		{"", "", "x"},
		{"héllo ", "wörld ", "日本"},
	}

	for i, chunks := range cases {
		t.Run(fmt.Sprintf("case%d", i), func(t *testing.T) {
			f := newFixture(t)
			s := f.submit(t, "q")
			f.ch.EmitChunk(s.ID(), protocol.MarkerStart)
			for _, c := range chunks {
				f.ch.EmitChunk(s.ID(), c)
			}
			f.ch.EmitChunk(s.ID(), protocol.MarkerEnd)

			assert.Equal(t, strings.Join(chunks, ""), s.Buffer())
			assert.Equal(t, len(chunks), s.Renders())
		})
	}
}

func TestSecondSubmitRejected(t *testing.T) {
	f := newFixture(t)
	first := f.submit(t, "one")

	second, err := f.coord.Submit(context.Background(), "two")
	assert.ErrorIs(t, err, ErrAlreadyLocked)
	assert.Nil(t, second)

	assert.Len(t, f.ch.Sent(), 1)
	assert.Len(t, f.sink.Find("AppendOutgoing"), 1)
	assert.Same(t, first, f.coord.Active())

	f.ch.EmitReply(first.ID(), []string{"ok"}, nil)
	third := f.submit(t, "three")
	assert.NotEqual(t, first.ID(), third.ID())
}

func TestMetadataAlwaysReleasesLock(t *testing.T) {
	bodies := []string{"", "plain", "```python\nopen", "```html\n<div>", "```go\nx"}
	for _, body := range bodies {
		f := newFixture(t)
		s := f.submit(t, "q")
		f.ch.EmitChunk(s.ID(), protocol.MarkerStart)
		if body != "" {
			f.ch.EmitChunk(s.ID(), body)
		}
		f.ch.EmitChunk(s.ID(), protocol.MarkerEnd)
		f.ch.EmitSources(s.ID(), protocol.Sources{"k": {}})

		assert.Equal(t, Complete, s.Status(), "body %q", body)
		assert.False(t, f.coord.Locked(), "body %q", body)
	}
}

func TestSubscriptionsDisposedAcrossTurns(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 50; i++ {
		s := f.submit(t, fmt.Sprintf("turn %d", i))
		assert.Equal(t, 3, s.Subscriptions())
		assert.Equal(t, 3, f.ch.Len())

		switch i % 3 {
		case 0:
			f.ch.EmitReply(s.ID(), []string{"x"}, nil)
		case 1:
			f.ch.Drop(errors.New("drop"))
		case 2:
			require.NoError(t, f.coord.Cancel())
		}
		assert.True(t, s.Status().Terminal())
		assert.Equal(t, 0, s.Subscriptions())
		assert.Equal(t, 0, f.ch.Len())
	}
}

// =============================================================================
// PROTOCOL VIOLATIONS
// =============================================================================

func TestProtocolViolations(t *testing.T) {
	tests := []struct {
		name   string
		events func(ch *stream.Memory, id string)
		status Status
		event  string
	}{
		{
			name: "metadata before start",
			events: func(ch *stream.Memory, id string) {
				ch.EmitSources(id, protocol.Sources{"a": {}})
			},
			status: Pending,
			event:  "sources",
		},
		{
			name: "text before start",
			events: func(ch *stream.Memory, id string) {
				ch.EmitChunk(id, "hi")
			},
			status: Pending,
			event:  "text chunk",
		},
		{
			name: "end before start",
			events: func(ch *stream.Memory, id string) {
				ch.EmitChunk(id, protocol.MarkerEnd)
			},
			status: Pending,
			event:  "end marker",
		},
		{
			name: "start twice",
			events: func(ch *stream.Memory, id string) {
				ch.EmitChunk(id, protocol.MarkerStart)
				ch.EmitChunk(id, protocol.MarkerStart)
			},
			status: Streaming,
			event:  "start marker",
		},
		{
			name: "metadata while streaming",
			events: func(ch *stream.Memory, id string) {
				ch.EmitChunk(id, protocol.MarkerStart)
				ch.EmitSources(id, nil)
			},
			status: Streaming,
			event:  "sources",
		},
		{
			name: "stray chunk after end",
			events: func(ch *stream.Memory, id string) {
				ch.EmitChunk(id, protocol.MarkerStart)
				ch.EmitChunk(id, "kept")
				ch.EmitChunk(id, protocol.MarkerEnd)
				ch.EmitChunk(id, "stray")
			},
			status: AwaitingMetadata,
			event:  "text chunk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := f.submit(t, "q")
			tt.events(f.ch, s.ID())

			assert.Equal(t, Failed, s.Status())
			assert.False(t, f.coord.Locked())
			assert.Equal(t, 0, f.ch.Len())

			var pv *ProtocolViolationError
			require.ErrorAs(t, s.Err(), &pv)
			assert.Equal(t, tt.status, pv.Status)
			assert.Equal(t, tt.event, pv.Event)
			assert.Len(t, f.sink.Find("ShowError"), 1)
		})
	}
}

func TestStrayChunkKeepsBuffer(t *testing.T) {
	f := newFixture(t)
	s := f.submit(t, "q")
	f.ch.EmitChunk(s.ID(), protocol.MarkerStart)
	f.ch.EmitChunk(s.ID(), "kept")
	f.ch.EmitChunk(s.ID(), protocol.MarkerEnd)
	f.ch.EmitChunk(s.ID(), "stray")

	assert.Equal(t, "kept", s.Buffer())
	assert.Equal(t, "kept", s.Rendered())
}

func TestMalformedChunkPayload(t *testing.T) {
	f := newFixture(t)
	s := f.submit(t, "q")

	f.ch.Dispatch(protocol.ChunkEvent(s.ID()), json.RawMessage(`{"chunk": 5}`))

	var pv *ProtocolViolationError
	require.ErrorAs(t, s.Err(), &pv)
	assert.Equal(t, "malformed chunk", pv.Event)
	assert.Error(t, errors.Unwrap(pv))
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestEmptySubmitDropped(t *testing.T) {
	f := newFixture(t)

	for _, text := range []string{"", "   ", "\n\t"} {
		s, err := f.coord.Submit(context.Background(), text)
		assert.NoError(t, err)
		assert.Nil(t, s)
	}
	assert.Empty(t, f.sink.Calls())
	assert.Empty(t, f.ch.Sent())
	assert.False(t, f.coord.Locked())
}

func TestSubmitTrimsAndNormalizes(t *testing.T) {
	f := newFixture(t)
	s := f.submit(t, "  cafe\u0301 \n")

	assert.Equal(t, "caf\u00e9", s.Text())
	assert.Equal(t, "caf\u00e9", f.ch.Sent()[0].Text)
	assert.Equal(t, "caf\u00e9", f.sink.Find("AppendOutgoing")[0].Text)
}

func TestSubmitSettings(t *testing.T) {
	f := newFixture(t)
	f.coord.SetRoom("research")
	f.coord.SetInternetSearch(true)

	f.submit(t, "q")
	turn := f.ch.Sent()[0]
	assert.Equal(t, "research", turn.Room)
	assert.True(t, turn.InternetSearch)
	assert.Equal(t, "ana", f.coord.Sender())
}

func TestDefaultTurnIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTurnID()
		assert.True(t, strings.HasPrefix(id, "msg-"))
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestSendFailureFailsTurn(t *testing.T) {
	f := newFixture(t)
	f.ch.FailSends(errors.New("not connected"))

	s := f.submit(t, "q")
	assert.Equal(t, Failed, s.Status())
	assert.False(t, f.coord.Locked())

	var terr *TransportError
	require.ErrorAs(t, s.Err(), &terr)
	assert.Equal(t, "send", terr.Op)
}

func TestSubscribeFailure(t *testing.T) {
	f := newFixture(t)
	f.ch.Close()

	s, err := f.coord.Submit(context.Background(), "q")
	require.Error(t, err)
	require.NotNil(t, s)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "subscribe", terr.Op)
	assert.ErrorIs(t, err, stream.ErrClosed)
	assert.Equal(t, Failed, s.Status())
	assert.False(t, f.coord.Locked())
	assert.Empty(t, f.ch.Sent())
}

// =============================================================================
// CANCELLATION AND TIMEOUT
// =============================================================================

func TestCancel(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.coord.Cancel(), ErrNoActiveSession)

	s := f.submit(t, "q")
	f.ch.EmitChunk(s.ID(), protocol.MarkerStart)
	require.NoError(t, f.coord.Cancel())

	assert.Equal(t, Failed, s.Status())
	assert.ErrorIs(t, s.Err(), ErrCancelled)
	assert.False(t, f.coord.Locked())
	assert.Nil(t, f.coord.Active())
	assert.Equal(t, s, f.coord.Last())

	assert.ErrorIs(t, f.coord.Cancel(), ErrNoActiveSession)
	assert.False(t, s.Cancel())
}

func TestIdleTimeout(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.IdleTimeout = 30 * time.Millisecond })
	s := f.submit(t, "q")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := f.coord.Wait(ctx, s)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, Failed, s.Status())
	assert.False(t, f.coord.Locked())
	assert.Equal(t, 0, f.ch.Len())
}

func TestActivityDefersTimeout(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.IdleTimeout = 80 * time.Millisecond })
	s := f.submit(t, "q")
	f.ch.EmitChunk(s.ID(), protocol.MarkerStart)

	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		f.ch.EmitChunk(s.ID(), "x")
	}
	assert.Equal(t, Streaming, s.Status())

	f.ch.EmitChunk(s.ID(), protocol.MarkerEnd)
	f.ch.EmitSources(s.ID(), nil)
	assert.Equal(t, Complete, s.Status())
}

func TestWaitContextDone(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.IdleTimeout = -1 })
	s := f.submit(t, "q")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.coord.Wait(ctx, s), context.Canceled)
	assert.NoError(t, f.coord.Wait(ctx, nil))
}

// =============================================================================
// INPUT LOCK
// =============================================================================

func TestInputLock(t *testing.T) {
	sink := &Recorder{}
	l := NewInputLock(sink)

	require.NoError(t, l.Acquire("a"))
	assert.True(t, l.Locked())
	assert.Equal(t, "a", l.Holder())
	assert.ErrorIs(t, l.Acquire("b"), ErrAlreadyLocked)

	assert.False(t, l.ReleaseFor("b"))
	assert.True(t, l.Locked())

	l.Release()
	l.Release()
	assert.False(t, l.Locked())

	assert.Equal(t, []string{"SetInputEnabled", "SetInputEnabled"}, sink.Methods())
}

// slowSink stalls on enable so a release and a later acquire overlap.
type slowSink struct {
	Recorder
	entered chan struct{}
}

func (s *slowSink) SetInputEnabled(enabled bool) {
	if enabled {
		close(s.entered)
		time.Sleep(50 * time.Millisecond)
	}
	s.Recorder.SetInputEnabled(enabled)
}

func TestInputLockNotifiesInOrder(t *testing.T) {
	sink := &slowSink{entered: make(chan struct{})}
	l := NewInputLock(sink)
	require.NoError(t, l.Acquire("a"))

	released := make(chan bool)
	go func() { released <- l.ReleaseFor("a") }()

	<-sink.entered
	require.NoError(t, l.Acquire("b"))
	assert.True(t, <-released)

	calls := sink.Find("SetInputEnabled")
	require.Len(t, calls, 3)
	assert.False(t, calls[0].Enabled)
	assert.True(t, calls[1].Enabled)
	assert.False(t, calls[2].Enabled)
	assert.Equal(t, "b", l.Holder())
}

func TestInputLockNilSink(t *testing.T) {
	l := NewInputLock(nil)
	require.NoError(t, l.Acquire("a"))
	assert.True(t, l.ReleaseFor("a"))
	assert.False(t, l.ReleaseFor("a"))
}

// =============================================================================
// STATUS
// =============================================================================

func TestStatusTransitions(t *testing.T) {
	assert.True(t, canAdvance(Pending, Streaming))
	assert.True(t, canAdvance(Streaming, AwaitingMetadata))
	assert.True(t, canAdvance(AwaitingMetadata, Complete))
	assert.True(t, canAdvance(Pending, Failed))
	assert.True(t, canAdvance(AwaitingMetadata, Failed))

	assert.False(t, canAdvance(Streaming, Pending))
	assert.False(t, canAdvance(Pending, AwaitingMetadata))
	assert.False(t, canAdvance(Complete, Failed))
	assert.False(t, canAdvance(Failed, Pending))

	assert.Equal(t, "awaiting_metadata", AwaitingMetadata.String())
	assert.Equal(t, "unknown", Status(42).String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Streaming.Terminal())
}
