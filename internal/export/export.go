// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/util"
)

// ErrEmpty is returned when there is nothing to export.
var ErrEmpty = errors.New("conversation has no messages")

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation is one conversation of a room, as returned by the history
// endpoint.
type Conversation struct {
	ID         string                 `json:"id,omitempty"`
	User       string                 `json:"user"`
	Room       string                 `json:"room"`
	ExportedAt time.Time              `json:"exported_at"`
	Messages   []protocol.RoomMessage `json:"messages"`
}

// Title is the heading used by the text formats.
func (c *Conversation) Title() string {
	return "#" + c.Room + " with " + protocol.SenderAssistant
}

// visible returns the messages to render, dropping join/leave notices
// unless withSystem is set.
func (c *Conversation) visible(withSystem bool) []protocol.RoomMessage {
	if withSystem {
		return c.Messages
	}
	out := make([]protocol.RoomMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		if !m.IsSystem() {
			out = append(out, m)
		}
	}
	return out
}

// Source fetches conversations from the server. *api.Client implements it.
type Source interface {
	Conversations(ctx context.Context, user string) (map[string][]string, error)
	History(ctx context.Context, user, room, conversationID string) ([]protocol.RoomMessage, error)
}

// ErrNoConversation is returned by Load when the room has no conversation.
var ErrNoConversation = errors.New("no conversations")

// Load fetches one conversation of room. Without an id the newest one is
// used.
func Load(ctx context.Context, src Source, user, room, id string) (*Conversation, error) {
	if id == "" {
		convs, err := src.Conversations(ctx, user)
		if err != nil {
			return nil, err
		}
		ids := convs[room]
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w in #%s", ErrNoConversation, room)
		}
		id = ids[len(ids)-1]
	}
	msgs, err := src.History(ctx, user, room, id)
	if err != nil {
		return nil, err
	}
	return &Conversation{ID: id, User: user, Room: room, Messages: msgs}, nil
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a conversation to one file format.
type Exporter interface {
	Export(conv *Conversation) ([]byte, error)

	// FileExtension returns the extension including the dot (".md").
	FileExtension() string

	MimeType() string
}

// Options configures export behavior.
type Options struct {
	// OutputDir is where files are written. Default: current directory.
	OutputDir string

	// OpenAfterExport opens the file in the default application.
	OpenAfterExport bool

	// IncludeMetadata adds the header block (room, user, counts).
	IncludeMetadata bool

	// IncludeTimestamps adds per-message timestamps.
	IncludeTimestamps bool

	// IncludeSystem keeps join/leave notices.
	IncludeSystem bool

	// Theme for HTML export ("light" or "dark"). Default: "dark".
	Theme string
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
	}
}

// Formats lists the names ForFormat accepts.
var Formats = []string{"md", "html", "json"}

// ForFormat returns the exporter for a format name.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	}
	return nil, fmt.Errorf("unknown export format %q (want one of %s)", format, strings.Join(Formats, ", "))
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile exports conv with exporter and returns the written path.
// The file is replaced atomically.
func ExportToFile(conv *Conversation, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if conv.ExportedAt.IsZero() {
		conv.ExportedAt = time.Now()
	}

	content, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	outputPath := filepath.Join(dir, Filename(conv, exporter.FileExtension()))
	if err := util.AtomicWriteFile(outputPath, content, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	if opts.OpenAfterExport {
		if err := openFile(outputPath); err != nil {
			return outputPath, fmt.Errorf("exported to %s but could not open it: %w", outputPath, err)
		}
	}
	return outputPath, nil
}

// Filename builds "luna_<room>_<yyyymmdd_hhmmss><ext>".
func Filename(conv *Conversation, ext string) string {
	return fmt.Sprintf("luna_%s_%s%s",
		sanitizeFilename(conv.Room),
		conv.ExportedAt.Format("20060102_150405"),
		ext,
	)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in file names.
func sanitizeFilename(s string) string {
	runes := []rune(s)
	if len(runes) > 50 {
		runes = runes[:50]
	}

	var b strings.Builder
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "conversation"
	}
	return b.String()
}

// messageTime formats a message timestamp, falling back to the raw server
// value when it does not parse.
func messageTime(m protocol.RoomMessage) string {
	if t := m.Time(); !t.IsZero() {
		return t.Format("Jan 2 15:04")
	}
	return m.Timestamp
}

// senderLabel is the display name of a message's sender.
func senderLabel(m protocol.RoomMessage) string {
	switch {
	case m.IsSystem():
		return "System"
	case m.Sender == "":
		return "Unknown"
	}
	return m.Sender
}

// senderClass groups senders for styling.
func senderClass(m protocol.RoomMessage) string {
	switch {
	case m.IsSystem():
		return "system"
	case m.Sender == protocol.SenderAssistant:
		return "assistant"
	}
	return "user"
}

// openFile opens a file in the default application for the OS.
func openFile(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", `""`, path)
	case "darwin":
		cmd = exec.Command("open", path)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
