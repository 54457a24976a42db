// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/luna-tui/internal/export"
	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/ui/components"
	"github.com/jeranaias/luna-tui/internal/ui/styles"
)

// commandTimeout bounds REST and room requests started from the input.
const commandTimeout = 30 * time.Second

// errNoLibrary is shown when the REST client is not configured.
var errNoLibrary = errors.New("history service not configured")

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// Command describes one slash command.
type Command struct {
	Name    string
	Args    string
	Summary string
}

// Commands lists the slash commands in help order.
var Commands = []Command{
	{"/help", "", "show commands"},
	{"/join", "<channel>", "switch channel"},
	{"/channels", "", "list channels"},
	{"/create", "<name>", "create a channel"},
	{"/history", "", "reload the current conversation"},
	{"/conversations", "", "list your conversations"},
	{"/new", "", "start a new conversation"},
	{"/upload", "<file>...", "upload documents"},
	{"/save", "", "save the last response"},
	{"/export", "[md|html|json]", "write the conversation to a file"},
	{"/search", "[on|off]", "toggle internet search"},
	{"/theme", "[dark|light|auto]", "switch theme"},
	{"/clear", "", "clear the screen"},
	{"/quit", "", "exit"},
}

// runCommand executes a slash command typed into the input.
func (m *Model) runCommand(line string) tea.Cmd {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]

	m.log.WithFields(logrus.Fields{
		"event":   "COMMAND",
		"command": name,
	}).Debug("running command")

	switch name {
	case "/help", "/?":
		m.appendMessage(&components.Message{Role: components.RoleSystem, Text: helpText()})

	case "/join":
		if len(args) == 0 {
			m.setNotice("usage: /join <channel>", nil)
			return nil
		}
		return m.joinCmd(args[0], false)

	case "/channels":
		return m.channelsCmd(false)

	case "/create":
		if len(args) == 0 {
			m.setNotice("usage: /create <name>", nil)
			return nil
		}
		return m.createCmd(strings.Join(args, " "))

	case "/history":
		if m.deps.Turns.Locked() {
			m.setNotice("wait for the current response", nil)
			return nil
		}
		m.clear()
		return m.historyCmd(m.deps.Turns.Room(), m.deps.Turns.ConversationID())

	case "/conversations":
		return m.conversationsCmd()

	case "/new":
		m.deps.Turns.SetConversationID("")
		m.clear()
		m.setNotice("new conversation", nil)

	case "/upload":
		if len(args) == 0 {
			m.setNotice("usage: /upload <file>...", nil)
			return nil
		}
		return m.uploadCmd(args)

	case "/save":
		return m.saveCmd()

	case "/export":
		format := "md"
		if len(args) > 0 {
			format = args[0]
		}
		return m.exportCmd(format)

	case "/search":
		on := !m.deps.Turns.InternetSearch()
		if len(args) > 0 {
			on = args[0] == "on" || args[0] == "true"
		}
		m.setSearch(on)

	case "/theme":
		if len(args) == 0 {
			m.setTheme(m.theme.Toggle())
			return nil
		}
		mode, err := styles.ParseMode(args[0])
		if err != nil {
			m.setNotice("", err)
			return nil
		}
		m.theme.SetMode(mode)
		m.setTheme(mode)

	case "/clear":
		m.clear()

	case "/quit", "/exit":
		m.quitting = true
		return tea.Quit

	default:
		m.setNotice("unknown command "+name+" (try /help)", nil)
	}
	return nil
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range Commands {
		b.WriteString("\n  " + c.Name)
		if c.Args != "" {
			b.WriteString(" " + c.Args)
		}
		b.WriteString(" - " + c.Summary)
	}
	return b.String()
}

// =============================================================================
// ROOMS
// =============================================================================

// joinCmd switches to room. With loadHistory the room's latest conversation
// is fetched in the same command.
func (m *Model) joinCmd(room string, loadHistory bool) tea.Cmd {
	rooms := m.deps.Rooms
	turns := m.deps.Turns
	lib := m.deps.Library
	if rooms == nil || room == "" {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		joined, err := rooms.Join(ctx, room)
		if err != nil {
			return joinedMsg{Err: fmt.Errorf("join %s: %w", room, err)}
		}
		if joined.Room != turns.Room() {
			turns.SetConversationID("")
			turns.SetRoom(joined.Room)
		}
		msg := joinedMsg{Room: joined.Room}
		if loadHistory && lib != nil {
			h := fetchHistory(ctx, lib, turns.Sender(), joined.Room, turns.ConversationID())
			msg.History = &h
		}
		return msg
	}
}

func (m *Model) channelsCmd(next bool) tea.Cmd {
	rooms := m.deps.Rooms
	if rooms == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		channels, err := rooms.Channels(ctx)
		return channelsMsg{Channels: channels, Next: next, Err: err}
	}
}

func (m *Model) createCmd(name string) tea.Cmd {
	rooms := m.deps.Rooms
	if rooms == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		created, channels, err := rooms.Create(ctx, name)
		if err != nil {
			return noticeMsg{Err: err}
		}
		return channelsMsg{Channels: channels, created: created}
	}
}

func (m *Model) handleChannels(msg channelsMsg) tea.Cmd {
	if msg.Err != nil {
		m.setNotice("", msg.Err)
		return nil
	}
	m.channels = msg.Channels
	if msg.created != "" {
		m.setNotice("created #"+msg.created, nil)
	}
	if !msg.Next {
		list := make([]string, len(msg.Channels))
		for i, c := range msg.Channels {
			list[i] = "#" + c
		}
		m.appendMessage(&components.Message{Role: components.RoleSystem, Text: "Channels: " + strings.Join(list, " ")})
		return nil
	}
	next := nextChannel(msg.Channels, m.deps.Turns.Room())
	if next == "" {
		m.setNotice("no other channels", nil)
		return nil
	}
	m.clear()
	return m.joinCmd(next, true)
}

// nextChannel returns the channel after current, wrapping around.
func nextChannel(channels []string, current string) string {
	if len(channels) == 0 {
		return ""
	}
	for i, c := range channels {
		if c == current {
			next := channels[(i+1)%len(channels)]
			if next == current {
				return ""
			}
			return next
		}
	}
	return channels[0]
}

// =============================================================================
// HISTORY
// =============================================================================

// historyCmd loads a conversation of room.
func (m *Model) historyCmd(room, conversationID string) tea.Cmd {
	lib := m.deps.Library
	user := m.deps.Turns.Sender()
	if lib == nil {
		return func() tea.Msg { return noticeMsg{Err: errNoLibrary} }
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return fetchHistory(ctx, lib, user, room, conversationID)
	}
}

// fetchHistory loads one conversation. Without an id the newest
// conversation of room is used, and later turns continue it.
func fetchHistory(ctx context.Context, lib Library, user, room, conversationID string) historyMsg {
	id := conversationID
	if id == "" {
		convs, err := lib.Conversations(ctx, user)
		if err != nil {
			return historyMsg{Room: room, Err: err}
		}
		ids := convs[room]
		if len(ids) == 0 {
			return historyMsg{Room: room}
		}
		id = ids[len(ids)-1]
	}
	msgs, err := lib.History(ctx, user, room, id)
	return historyMsg{Room: room, ConversationID: id, Messages: msgs, Err: err}
}

func (m *Model) showHistory(msg historyMsg) {
	if msg.Err != nil {
		m.setNotice("history unavailable: "+msg.Err.Error(), nil)
		m.log.WithFields(logrus.Fields{
			"event": "HISTORY_FAILED",
			"room":  msg.Room,
		}).WithError(msg.Err).Warn("could not load history")
		return
	}
	if msg.Room != m.deps.Turns.Room() || msg.ConversationID == "" {
		return
	}
	m.deps.Turns.SetConversationID(msg.ConversationID)

	loaded := make([]*components.Message, 0, len(msg.Messages))
	for _, hm := range msg.Messages {
		entry := &components.Message{ID: hm.MessageID, Name: hm.Sender}
		switch hm.Sender {
		case m.deps.Turns.Sender():
			entry.Role = components.RoleUser
			entry.Text = hm.Msg
		case protocol.SenderSystem:
			entry.Role = components.RoleSystem
			entry.Text = hm.Msg
		default:
			entry.Role = components.RoleAssistant
			entry.Markdown = hm.Msg
		}
		entry.Time = hm.Time()
		loaded = append(loaded, entry)
	}
	m.messages = append(loaded, m.messages...)
	m.refresh()
	m.setNotice(fmt.Sprintf("loaded %d messages", len(loaded)), nil)
}

func (m *Model) conversationsCmd() tea.Cmd {
	lib := m.deps.Library
	user := m.deps.Turns.Sender()
	if lib == nil {
		return func() tea.Msg { return noticeMsg{Err: errNoLibrary} }
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		convs, err := lib.Conversations(ctx, user)
		if err != nil {
			return noticeMsg{Err: err}
		}
		return systemMsg{Text: formatConversations(convs)}
	}
}

func formatConversations(convs map[string][]string) string {
	if len(convs) == 0 {
		return "No conversations yet."
	}
	rooms := make([]string, 0, len(convs))
	for r := range convs {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	var b strings.Builder
	b.WriteString("Conversations:")
	for _, r := range rooms {
		fmt.Fprintf(&b, "\n  #%s: %d", r, len(convs[r]))
	}
	return b.String()
}

// =============================================================================
// UPLOAD AND SAVE
// =============================================================================

func (m *Model) uploadCmd(paths []string) tea.Cmd {
	lib := m.deps.Library
	if lib == nil {
		return func() tea.Msg { return noticeMsg{Err: errNoLibrary} }
	}
	m.setNotice(fmt.Sprintf("uploading %d file(s)...", len(paths)), nil)
	return func() tea.Msg {
		reply, err := lib.Upload(context.Background(), paths...)
		if err != nil {
			return noticeMsg{Err: fmt.Errorf("upload failed: %w", err)}
		}
		return noticeMsg{Text: reply}
	}
}

func (m *Model) saveCmd() tea.Cmd {
	lib := m.deps.Library
	if lib == nil {
		return func() tea.Msg { return noticeMsg{Err: errNoLibrary} }
	}
	reply := m.lastReply()
	if reply == nil {
		m.setNotice("nothing to save", nil)
		return nil
	}
	user, room, content := m.deps.Turns.Sender(), m.deps.Turns.Room(), reply.Plain()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := lib.SaveResponse(ctx, user, room, content); err != nil {
			return noticeMsg{Err: err}
		}
		return noticeMsg{Text: "response saved"}
	}
}

// exportCmd writes the current conversation (or the room's newest one) to
// ui.export_dir.
func (m *Model) exportCmd(format string) tea.Cmd {
	lib := m.deps.Library
	if lib == nil {
		return func() tea.Msg { return noticeMsg{Err: errNoLibrary} }
	}
	opts := export.DefaultOptions()
	opts.OutputDir = m.cfg.UI.ExportDir
	opts.Theme = m.cfg.UI.Theme
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		m.setNotice("", err)
		return nil
	}
	user, room, id := m.deps.Turns.Sender(), m.deps.Turns.Room(), m.deps.Turns.ConversationID()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		conv, err := export.Load(ctx, lib, user, room, id)
		if err != nil {
			return noticeMsg{Err: err}
		}
		path, err := export.ExportToFile(conv, exporter, opts)
		if err != nil {
			return noticeMsg{Err: err}
		}
		return noticeMsg{Text: "exported to " + path}
	}
}
