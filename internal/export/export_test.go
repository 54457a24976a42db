// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/luna-tui/internal/protocol"
)

func testConversation() *Conversation {
	return &Conversation{
		ID:         "c-42",
		User:       "ana",
		Room:       "side project",
		ExportedAt: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC),
		Messages: []protocol.RoomMessage{
			{Sender: protocol.SenderSystem, Msg: "ana has entered the room.", Timestamp: "2025-03-04 05:00:00"},
			{Sender: "ana", Msg: "show me <code>", Timestamp: "2025-03-04 05:01:00"},
			{Sender: protocol.SenderAssistant, Msg: "Sure:\n```python\n# hi\nprint(1 < 2)\n```", Timestamp: "bogus"},
		},
	}
}

func TestForFormat(t *testing.T) {
	for _, name := range []string{"md", "markdown", ".html", "JSON"} {
		_, err := ForFormat(name, nil)
		assert.NoError(t, err, name)
	}
	_, err := ForFormat("pdf", nil)
	assert.ErrorContains(t, err, "md, html, json")
}

func TestMarkdownExport(t *testing.T) {
	out, err := NewMarkdownExporter(nil).Export(testConversation())
	require.NoError(t, err)
	md := string(out)

	assert.Contains(t, md, "room: side project\n")
	assert.Contains(t, md, "conversation: c-42\n")
	assert.Contains(t, md, "messages: 2\n", "system notices are dropped")
	assert.NotContains(t, md, "entered the room")
	assert.Contains(t, md, "### ana <sub>Mar 4 05:01</sub>")
	assert.Contains(t, md, "<sub>bogus</sub>", "unparsable timestamps are kept raw")
	assert.Contains(t, md, "```python\n# hi\nprint(1 < 2)\n```")
}

func TestMarkdownExport_Options(t *testing.T) {
	opts := &Options{IncludeSystem: true}
	out, err := NewMarkdownExporter(opts).Export(testConversation())
	require.NoError(t, err)
	md := string(out)

	assert.False(t, strings.HasPrefix(md, "---"), "no frontmatter without metadata")
	assert.Contains(t, md, "### System\n")
	assert.NotContains(t, md, "<sub>")
}

func TestHTMLExport(t *testing.T) {
	out, err := NewHTMLExporter(&Options{IncludeMetadata: true, IncludeTimestamps: true, Theme: "light"}).Export(testConversation())
	require.NoError(t, err)
	page := string(out)

	assert.Contains(t, page, `<body class="light-theme">`)
	assert.Contains(t, page, "show me &lt;code&gt;", "user text is escaped")
	assert.Contains(t, page, `<pre><code class="python"><code class="comment"># hi</code>`)
	assert.Contains(t, page, "print(1 &lt; 2)")
	assert.Contains(t, page, "<strong>Conversation:</strong> c-42")
}

func TestHTMLExport_UnknownThemeIsDark(t *testing.T) {
	out, err := NewHTMLExporter(&Options{Theme: "neon"}).Export(testConversation())
	require.NoError(t, err)
	assert.Contains(t, string(out), `<body class="dark-theme">`)
}

func TestJSONExport(t *testing.T) {
	out, err := NewJSONExporter(nil).Export(testConversation())
	require.NoError(t, err)

	var got Conversation
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "c-42", got.ID)
	assert.Len(t, got.Messages, 3, "json keeps every message")
}

func TestExport_Empty(t *testing.T) {
	conv := &Conversation{Room: "general", Messages: []protocol.RoomMessage{
		{Sender: protocol.SenderSystem, Msg: "bo has left the room."},
	}}
	_, err := NewMarkdownExporter(nil).Export(conv)
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = NewHTMLExporter(nil).Export(conv)
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = NewJSONExporter(nil).Export(&Conversation{})
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestExportToFile(t *testing.T) {
	dir := t.TempDir()
	conv := testConversation()
	opts := DefaultOptions()
	opts.OutputDir = filepath.Join(dir, "out")

	path, err := ExportToFile(conv, NewMarkdownExporter(opts), opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "luna_side_project_20250304_050607.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "generator: luna-tui")
}

func TestExportToFile_StampsTime(t *testing.T) {
	conv := testConversation()
	conv.ExportedAt = time.Time{}
	opts := &Options{OutputDir: t.TempDir()}

	path, err := ExportToFile(conv, NewJSONExporter(opts), opts)
	require.NoError(t, err)
	assert.False(t, conv.ExportedAt.IsZero())
	assert.Equal(t, ".json", filepath.Ext(path))
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"general":   "general",
		"a/b:c":     "a-b-c",
		"two words": "two_words",
		"":          "conversation",
		"tab\there": "tab_here",
		"bell\x07":  "bell-",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), in)
	}
	assert.Len(t, sanitizeFilename(strings.Repeat("x", 80)), 50)
}

func TestEscapeYAML(t *testing.T) {
	assert.Equal(t, "plain", escapeYAML("plain"))
	assert.Equal(t, `"a: \"b\""`, escapeYAML(`a: "b"`))
	assert.Equal(t, `"#general with x"`, escapeYAML("#general with x"))
}

type fakeSource struct {
	convs   map[string][]string
	history map[string][]protocol.RoomMessage
	err     error
}

func (f *fakeSource) Conversations(ctx context.Context, user string) (map[string][]string, error) {
	return f.convs, f.err
}

func (f *fakeSource) History(ctx context.Context, user, room, id string) ([]protocol.RoomMessage, error) {
	return f.history[id], nil
}

func TestLoad(t *testing.T) {
	src := &fakeSource{
		convs: map[string][]string{"general": {"c-1", "c-2"}},
		history: map[string][]protocol.RoomMessage{
			"c-1": {{Sender: "ana", Msg: "old"}},
			"c-2": {{Sender: "ana", Msg: "new"}},
		},
	}
	ctx := context.Background()

	conv, err := Load(ctx, src, "ana", "general", "")
	require.NoError(t, err)
	assert.Equal(t, "c-2", conv.ID, "newest conversation by default")
	assert.Equal(t, "new", conv.Messages[0].Msg)

	conv, err = Load(ctx, src, "ana", "general", "c-1")
	require.NoError(t, err)
	assert.Equal(t, "old", conv.Messages[0].Msg)

	_, err = Load(ctx, src, "ana", "research", "")
	assert.ErrorIs(t, err, ErrNoConversation)
	assert.ErrorContains(t, err, "#research")

	src.err = errors.New("down")
	_, err = Load(ctx, src, "ana", "general", "")
	assert.EqualError(t, err, "down")
}
