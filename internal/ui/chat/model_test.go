// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/luna-tui/internal/api"
	"github.com/jeranaias/luna-tui/internal/config"
	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/session"
	"github.com/jeranaias/luna-tui/internal/stream"
	"github.com/jeranaias/luna-tui/internal/ui/components"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// recorder collects what the sink sends.
type recorder struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (r *recorder) Send(msg tea.Msg) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recorder) take() []tea.Msg {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.msgs
	r.msgs = nil
	return msgs
}

type fakeRooms struct {
	current  string
	channels []string
	joined   []string
	err      error
}

func (f *fakeRooms) Current() string { return f.current }

func (f *fakeRooms) Join(_ context.Context, room string) (protocol.JoinedRoom, error) {
	if f.err != nil {
		return protocol.JoinedRoom{}, f.err
	}
	f.joined = append(f.joined, room)
	f.current = room
	return protocol.JoinedRoom{Username: "ana", Room: room}, nil
}

func (f *fakeRooms) Channels(context.Context) ([]string, error) {
	return f.channels, f.err
}

func (f *fakeRooms) Create(_ context.Context, name string) (string, []string, error) {
	n := protocol.NormalizeChannelName(name)
	f.channels = append(f.channels, n)
	return n, f.channels, nil
}

type fakeLibrary struct {
	convs   map[string][]string
	history []api.HistoryMessage
	asked   string
	saved   string
	upload  []string
	err     error
}

func (f *fakeLibrary) Conversations(context.Context, string) (map[string][]string, error) {
	return f.convs, f.err
}

func (f *fakeLibrary) History(_ context.Context, _, _, id string) ([]api.HistoryMessage, error) {
	f.asked = id
	return f.history, f.err
}

func (f *fakeLibrary) Upload(_ context.Context, paths ...string) (string, error) {
	f.upload = paths
	if f.err != nil {
		return "", f.err
	}
	return "Files successfully uploaded", nil
}

func (f *fakeLibrary) SaveResponse(_ context.Context, _, _, content string) error {
	f.saved = content
	return f.err
}

type harness struct {
	t      *testing.T
	model  *Model
	mem    *stream.Memory
	coord  *session.Coordinator
	sent   *recorder
	rooms  *fakeRooms
	lib    *fakeLibrary
	copied string
	saves  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	h := &harness{
		t:     t,
		mem:   stream.NewMemory(),
		sent:  &recorder{},
		rooms: &fakeRooms{current: "general", channels: []string{"general", "research"}},
		lib:   &fakeLibrary{convs: map[string][]string{}},
	}
	sink := NewSink()
	sink.Attach(h.sent)
	h.coord = session.NewCoordinator(h.mem, sink, session.Config{
		Room:   "general",
		Sender: "ana",
		Logger: log,
	})
	t.Cleanup(h.coord.Close)

	cfg := config.Default()
	cfg.UI.Theme = "dark"
	h.model = New(Deps{
		Turns:   h.coord,
		Rooms:   h.rooms,
		Library: h.lib,
		Config:  cfg,
		Clipboard: func(s string) error {
			h.copied = s
			return nil
		},
		SaveConfig: func(*config.Config) error {
			h.saves++
			return nil
		},
		Logger: log,
	})
	h.update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return h
}

func (h *harness) update(msg tea.Msg) tea.Cmd {
	_, cmd := h.model.Update(msg)
	return cmd
}

// run executes cmd and feeds its message back, then drains the sink.
func (h *harness) run(cmd tea.Cmd) {
	h.t.Helper()
	require.NotNil(h.t, cmd)
	if msg := cmd(); msg != nil {
		h.update(msg)
	}
	h.drain()
}

func (h *harness) drain() {
	for _, msg := range h.sent.take() {
		h.update(msg)
	}
}

func (h *harness) key(k tea.KeyType) tea.Cmd {
	return h.update(tea.KeyMsg{Type: k})
}

func (h *harness) send(text string) string {
	h.t.Helper()
	h.model.input.SetValue(text)
	h.run(h.key(tea.KeyEnter))
	sent := h.mem.Sent()
	require.NotEmpty(h.t, sent)
	return sent[len(sent)-1].ID
}

// =============================================================================
// SINK
// =============================================================================

func TestSink_ForwardsEveryCall(t *testing.T) {
	rec := &recorder{}
	sink := NewSink()
	sink.AppendOutgoing("dropped", "before attach")
	sink.Attach(rec)

	sink.AppendOutgoing("m1", "hi")
	sink.ShowTyping("m1")
	sink.AttachResponse("m1")
	sink.UpdateResponse("m1", "<p>x</p>")
	sink.AppendMetadata("m1", protocol.Sources{"a": {}}, "<strong>Sources:</strong>")
	sink.ShowError("m1", errors.New("boom"))
	sink.SetInputEnabled(true)

	msgs := rec.take()
	require.Len(t, msgs, 7)
	assert.Equal(t, OutgoingMsg{ID: "m1", Text: "hi"}, msgs[0])
	assert.Equal(t, TypingMsg{ID: "m1"}, msgs[1])
	assert.Equal(t, AttachMsg{ID: "m1"}, msgs[2])
	assert.Equal(t, ResponseMsg{ID: "m1", Markup: "<p>x</p>"}, msgs[3])
	assert.IsType(t, MetadataMsg{}, msgs[4])
	assert.IsType(t, TurnErrorMsg{}, msgs[5])
	assert.Equal(t, InputEnabledMsg{Enabled: true}, msgs[6])
}

// =============================================================================
// TURNS
// =============================================================================

func TestModel_TurnLifecycle(t *testing.T) {
	h := newHarness(t)

	id := h.send("hello")
	assert.False(t, h.model.InputEnabled(), "input locked while streaming")

	msgs := h.model.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, components.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.True(t, msgs[1].Streaming)

	h.mem.EmitReply(id, []string{"Hi ", "there"}, protocol.Sources{"docs/a.pdf": {Pages: []int{2}}})
	h.drain()

	reply := h.model.Messages()[1]
	assert.Contains(t, reply.Markup, "Hi there")
	assert.Contains(t, reply.Sources, "docs/a.pdf (pages: 2)")
	assert.False(t, reply.Streaming)
	assert.True(t, h.model.InputEnabled())
	assert.Contains(t, h.model.View(), "Hi there")
}

func TestModel_IdleCountdown(t *testing.T) {
	h := newHarness(t)
	h.coord.SetIdleTimeout(time.Minute)

	id := h.send("hello")
	h.mem.EmitChunk(id, protocol.MarkerStart)
	h.drain()

	h.update(connTickMsg{})
	assert.Greater(t, h.model.status.Remaining, 50*time.Second)
	assert.LessOrEqual(t, h.model.status.Remaining, time.Minute)
	assert.Contains(t, h.model.status.View(), "timeout ")

	h.mem.EmitChunk(id, protocol.MarkerEnd)
	h.mem.EmitSources(id, nil)
	h.drain()

	h.update(connTickMsg{})
	assert.Zero(t, h.model.status.Remaining)
	assert.NotContains(t, h.model.status.View(), "timeout ")
}

func TestModel_SecondSubmitWhileStreaming(t *testing.T) {
	h := newHarness(t)
	h.send("first")

	h.model.input.SetValue("second")
	assert.Nil(t, h.key(tea.KeyEnter))
	assert.Equal(t, "wait for the current response", h.model.Notice())
	assert.Len(t, h.mem.Sent(), 1)
}

func TestModel_EmptyInputIgnored(t *testing.T) {
	h := newHarness(t)
	h.model.input.SetValue("   ")
	assert.Nil(t, h.key(tea.KeyEnter))
	assert.Empty(t, h.mem.Sent())
}

func TestModel_CancelStreaming(t *testing.T) {
	h := newHarness(t)
	id := h.send("long question")
	h.mem.EmitChunk(id, protocol.MarkerStart)
	h.drain()

	h.run(h.key(tea.KeyEsc))

	reply := h.model.Messages()[1]
	assert.True(t, reply.Failed)
	assert.Equal(t, "stopped", reply.Err)
	assert.True(t, h.model.InputEnabled())
	assert.Equal(t, "response stopped", h.model.Notice())
}

func TestModel_TransportFailure(t *testing.T) {
	h := newHarness(t)
	h.send("hello")

	h.mem.Drop(errors.New("connection reset"))
	h.drain()

	reply := h.model.Messages()[1]
	assert.True(t, reply.Failed)
	assert.Contains(t, reply.Err, "connection reset")
	assert.Equal(t, components.StatusError, h.model.status.Status)
}

func TestModel_CtrlCQuitsWhenIdle(t *testing.T) {
	h := newHarness(t)
	cmd := h.key(tea.KeyCtrlC)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, h.model.View())
}

// =============================================================================
// TOGGLES
// =============================================================================

func TestModel_CopyLastResponse(t *testing.T) {
	h := newHarness(t)

	h.key(tea.KeyCtrlY)
	assert.Equal(t, "nothing to copy", h.model.Notice())

	id := h.send("code please")
	h.mem.EmitReply(id, []string{"```python\nx = 1\n```"}, nil)
	h.drain()

	h.key(tea.KeyCtrlY)
	assert.Equal(t, "x = 1", h.copied)
	assert.Equal(t, "response copied", h.model.Notice())
}

func TestModel_SearchToggle(t *testing.T) {
	h := newHarness(t)

	h.key(tea.KeyCtrlS)
	assert.True(t, h.coord.InternetSearch())
	assert.True(t, h.model.status.Search)
	assert.Equal(t, 1, h.saves)

	h.model.input.SetValue("/search off")
	h.key(tea.KeyEnter)
	assert.False(t, h.coord.InternetSearch())

	h.send("news?")
	assert.False(t, h.mem.Sent()[0].InternetSearch)
}

func TestModel_ThemeToggle(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.model.Theme().IsDark)

	h.key(tea.KeyCtrlT)
	assert.False(t, h.model.Theme().IsDark)
	assert.Equal(t, "light", h.model.cfg.UI.Theme)

	h.model.input.SetValue("/theme dark")
	h.key(tea.KeyEnter)
	assert.True(t, h.model.Theme().IsDark)
}

func TestModel_Clear(t *testing.T) {
	h := newHarness(t)
	id := h.send("hello")
	h.mem.EmitReply(id, []string{"hi"}, nil)
	h.drain()

	h.key(tea.KeyCtrlL)
	assert.Empty(t, h.model.Messages())
	assert.Contains(t, h.model.View(), "No messages yet")
}

func TestModel_ConfigReload(t *testing.T) {
	h := newHarness(t)

	cfg := config.Default()
	cfg.UI.Theme = "light"
	cfg.Chat.InternetSearch = true
	h.update(ConfigChangedMsg{Config: cfg})

	assert.False(t, h.model.Theme().IsDark)
	assert.True(t, h.coord.InternetSearch())
	assert.Equal(t, "config reloaded", h.model.Notice())
}

// =============================================================================
// ROOMS AND HISTORY
// =============================================================================

func TestModel_RoomMessages(t *testing.T) {
	h := newHarness(t)
	id := h.send("hello")
	before := len(h.model.Messages())

	h.update(RoomMessageMsg{Message: protocol.RoomMessage{Msg: "hello", Sender: "ana", MessageID: id}})
	h.update(RoomMessageMsg{Message: protocol.RoomMessage{Sender: protocol.SenderAssistant}})
	assert.Len(t, h.model.Messages(), before, "own echo and placeholder are skipped")

	h.update(RoomMessageMsg{Message: protocol.RoomMessage{Msg: "bo has entered the room.", Sender: protocol.SenderSystem}})
	h.update(RoomMessageMsg{Message: protocol.RoomMessage{Msg: "hey all", Sender: "bo"}})

	msgs := h.model.Messages()
	require.Len(t, msgs, before+2)
	assert.Equal(t, components.RoleSystem, msgs[before].Role)
	assert.Equal(t, "bo", msgs[before+1].Name)
}

func TestModel_ConversationID(t *testing.T) {
	h := newHarness(t)
	h.update(ConversationMsg{ID: "conv-9"})
	assert.Equal(t, "conv-9", h.coord.ConversationID())

	h.send("follow up")
	assert.Equal(t, "conv-9", h.mem.Sent()[0].ConversationID)

	h.model.input.SetValue("/new")
	h.key(tea.KeyEnter)
	assert.Empty(t, h.coord.ConversationID())
}

func TestModel_InitJoinsAndLoadsHistory(t *testing.T) {
	h := newHarness(t)
	h.lib.convs = map[string][]string{"general": {"c1", "c2"}}
	h.lib.history = []api.HistoryMessage{
		{Sender: "ana", Msg: "earlier question", Timestamp: "2025-01-01 10:00:00"},
		{Sender: protocol.SenderAssistant, Msg: "**earlier** answer"},
	}

	h.run(h.model.joinCmd("general", true))

	assert.Equal(t, []string{"general"}, h.rooms.joined)
	assert.Equal(t, "c2", h.lib.asked)
	assert.Equal(t, "c2", h.coord.ConversationID())

	msgs := h.model.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, components.RoleUser, msgs[0].Role)
	assert.Equal(t, 10, msgs[0].Time.Hour())
	assert.Equal(t, "**earlier** answer", msgs[1].Markdown)
	assert.Equal(t, "loaded 2 messages", h.model.Notice())
}

func TestModel_HistoryFailureIsNotice(t *testing.T) {
	h := newHarness(t)
	h.lib.err = errors.New("server down")

	h.run(h.model.joinCmd("general", true))
	assert.Contains(t, h.model.Notice(), "history unavailable")
	assert.Empty(t, h.model.Messages())
}

func TestModel_NextChannel(t *testing.T) {
	h := newHarness(t)
	h.lib.convs = map[string][]string{"research": {"r1"}}

	cmd := h.key(tea.KeyCtrlR)
	require.NotNil(t, cmd)
	msg, ok := cmd().(channelsMsg)
	require.True(t, ok)
	h.run(h.model.handleChannels(msg))

	assert.Equal(t, []string{"research"}, h.rooms.joined)
	assert.Equal(t, "research", h.coord.Room())
	assert.Equal(t, "research", h.model.header.Room)
	assert.Equal(t, "r1", h.lib.asked)
}

func TestNextChannel(t *testing.T) {
	tests := []struct {
		channels []string
		current  string
		want     string
	}{
		{[]string{"a", "b", "c"}, "a", "b"},
		{[]string{"a", "b", "c"}, "c", "a"},
		{[]string{"a"}, "a", ""},
		{[]string{"a", "b"}, "zzz", "a"},
		{nil, "a", ""},
	}
	for _, tt := range tests {
		if got := nextChannel(tt.channels, tt.current); got != tt.want {
			t.Errorf("nextChannel(%v, %q) = %q, want %q", tt.channels, tt.current, got, tt.want)
		}
	}
}

func TestModel_Commands(t *testing.T) {
	h := newHarness(t)

	h.model.input.SetValue("/channels")
	h.run(h.key(tea.KeyEnter))
	last := h.model.Messages()[len(h.model.Messages())-1]
	assert.Equal(t, "Channels: #general #research", last.Text)

	h.model.input.SetValue("/create Team Notes")
	h.run(h.key(tea.KeyEnter))
	assert.Equal(t, "created #team_notes", h.model.Notice())

	h.model.input.SetValue("/join research")
	h.run(h.key(tea.KeyEnter))
	assert.Equal(t, "research", h.coord.Room())

	h.model.input.SetValue("/upload a.pdf b.pdf")
	h.run(h.key(tea.KeyEnter))
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, h.lib.upload)
	assert.Equal(t, "Files successfully uploaded", h.model.Notice())

	h.model.input.SetValue("/help")
	h.key(tea.KeyEnter)
	last = h.model.Messages()[len(h.model.Messages())-1]
	assert.True(t, strings.HasPrefix(last.Text, "Commands:"))

	h.model.input.SetValue("/bogus")
	h.key(tea.KeyEnter)
	assert.Contains(t, h.model.Notice(), "unknown command /bogus")
}

func TestModel_SaveResponse(t *testing.T) {
	h := newHarness(t)

	h.model.input.SetValue("/save")
	assert.Nil(t, h.key(tea.KeyEnter))
	assert.Equal(t, "nothing to save", h.model.Notice())

	id := h.send("q")
	h.mem.EmitReply(id, []string{"the answer"}, nil)
	h.drain()

	h.model.input.SetValue("/save")
	h.run(h.key(tea.KeyEnter))
	assert.Equal(t, "the answer", h.lib.saved)
	assert.Equal(t, "response saved", h.model.Notice())
}

func TestModel_Export(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	h.model.cfg.UI.ExportDir = dir
	h.lib.convs = map[string][]string{"general": {"c-1"}}
	h.lib.history = []api.HistoryMessage{{Sender: "ana", Msg: "hello"}}

	h.model.input.SetValue("/export json")
	h.run(h.key(tea.KeyEnter))
	assert.Contains(t, h.model.Notice(), "exported to "+dir)

	files, err := filepath.Glob(filepath.Join(dir, "luna_general_*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	h.model.input.SetValue("/export pdf")
	assert.Nil(t, h.key(tea.KeyEnter))
	assert.Contains(t, h.model.Notice(), "unknown export format")
}

func TestModel_UploadFailure(t *testing.T) {
	h := newHarness(t)
	h.lib.err = errors.New("413")

	h.model.input.SetValue("/upload big.pdf")
	h.run(h.key(tea.KeyEnter))
	assert.Contains(t, h.model.Notice(), "upload failed: 413")
}

func TestFormatConversations(t *testing.T) {
	assert.Equal(t, "No conversations yet.", formatConversations(nil))
	got := formatConversations(map[string][]string{"b": {"1"}, "a": {"1", "2"}})
	assert.Equal(t, "Conversations:\n  #a: 2\n  #b: 1", got)
}

func TestModel_TabCompletion(t *testing.T) {
	h := newHarness(t)

	h.model.input.SetValue("/jo")
	h.key(tea.KeyTab)
	assert.Equal(t, "/join ", h.model.input.Value())

	h.model.input.SetValue("/c")
	h.key(tea.KeyTab)
	assert.Equal(t, "/c", h.model.input.Value())
	assert.Equal(t, "/channels  /clear  /conversations  /create", h.model.Notice())

	h.model.channels = []string{"general", "research", "release"}
	h.model.input.SetValue("/join re")
	h.key(tea.KeyTab)
	assert.Equal(t, "/join re", h.model.input.Value())
	h.model.input.SetValue("/join res")
	h.key(tea.KeyTab)
	assert.Equal(t, "/join research ", h.model.input.Value())

	h.model.input.SetValue("plain text")
	h.key(tea.KeyTab)
	assert.Equal(t, "plain text", h.model.input.Value())
}
