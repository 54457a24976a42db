// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/luna-tui/internal/config"
	"github.com/jeranaias/luna-tui/internal/session"
	"github.com/jeranaias/luna-tui/internal/ui/components"
	"github.com/jeranaias/luna-tui/internal/ui/styles"
)

// Update handles every message for the chat screen.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	// Turn updates
	case OutgoingMsg:
		m.own[msg.ID] = true
		m.appendMessage(&components.Message{
			ID:   msg.ID,
			Role: components.RoleUser,
			Name: m.deps.Turns.Sender(),
			Text: msg.Text,
			Time: time.Now(),
		})

	case TypingMsg:
		reply := &components.Message{ID: msg.ID, Role: components.RoleAssistant, Streaming: true, Time: time.Now()}
		m.replies[msg.ID] = reply
		m.lastID = msg.ID
		m.appendMessage(reply)
		m.status.Status = components.StatusStreaming
		cmds = append(cmds, m.typing.Start())

	case AttachMsg:
		m.typing.Stop()

	case ResponseMsg:
		if reply := m.replies[msg.ID]; reply != nil {
			reply.Markup = msg.Markup
			m.refresh()
		}

	case MetadataMsg:
		if reply := m.replies[msg.ID]; reply != nil {
			if len(msg.Sources) > 0 {
				reply.Sources = msg.Markup
			}
			reply.Streaming = false
			m.refresh()
		}

	case TurnErrorMsg:
		m.typing.Stop()
		m.status.Status = components.StatusError
		if reply := m.replies[msg.ID]; reply != nil {
			reply.Streaming = false
			reply.Failed = true
			reply.Err = turnErrorText(msg.Err)
			m.refresh()
		} else {
			m.appendMessage(&components.Message{Role: components.RoleError, Text: turnErrorText(msg.Err)})
		}

	case InputEnabledMsg:
		m.inputEnabled = msg.Enabled
		if msg.Enabled {
			m.typing.Stop()
			if m.status.Status != components.StatusError {
				m.status.Status = components.StatusReady
			}
			if reply := m.replies[m.lastID]; reply != nil {
				reply.Streaming = false
				m.refresh()
			}
			cmds = append(cmds, m.input.Focus())
		} else {
			m.input.Blur()
		}

	case submitDoneMsg:
		if msg.Err != nil && !errors.Is(msg.Err, session.ErrAlreadyLocked) {
			m.setNotice("", msg.Err)
		}

	// Connection
	case RoomMessageMsg:
		m.roomMessage(msg)

	case ConversationMsg:
		m.deps.Turns.SetConversationID(msg.ID)
		m.log.WithFields(logrus.Fields{
			"event":           "CONVERSATION_STARTED",
			"conversation_id": msg.ID,
		}).Debug("server started a conversation")

	case ConnectionMsg:
		m.setConnection(msg.State)

	case connTickMsg:
		if m.deps.Connected != nil {
			if m.deps.Connected() {
				m.setConnection(components.Connected)
			} else {
				m.setConnection(components.Disconnected)
			}
		}
		m.refreshTimeout()
		cmds = append(cmds, connTick())

	case ConfigChangedMsg:
		m.applyConfig(msg.Config)

	// Command results
	case noticeMsg:
		m.setNotice(msg.Text, msg.Err)

	case joinedMsg:
		if msg.Err != nil {
			m.setNotice("", msg.Err)
			break
		}
		m.header.Room = msg.Room
		m.setNotice("joined #"+msg.Room, nil)
		if msg.History != nil {
			m.showHistory(*msg.History)
		}

	case channelsMsg:
		cmds = append(cmds, m.handleChannels(msg))

	case historyMsg:
		m.showHistory(msg)

	case systemMsg:
		m.appendMessage(&components.Message{Role: components.RoleSystem, Text: msg.Text})
	}

	var cmd tea.Cmd
	m.typing, cmd = m.typing.Update(msg)
	cmds = append(cmds, cmd)

	if m.inputEnabled {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleKey processes shortcuts. It reports false for keys the input and
// viewport should see.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return tea.Quit, true

	case key.Matches(msg, m.keys.Cancel):
		if m.deps.Turns.Locked() {
			return m.cancelCmd(), true
		}
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return tea.Quit, true
		}
		m.input.Reset()
		return nil, true

	case key.Matches(msg, m.keys.Submit):
		return m.submit(), true

	case key.Matches(msg, m.keys.Complete):
		m.complete()
		return nil, true

	case key.Matches(msg, m.keys.Copy):
		m.copyLast()
		return nil, true

	case key.Matches(msg, m.keys.Search):
		m.setSearch(!m.deps.Turns.InternetSearch())
		return nil, true

	case key.Matches(msg, m.keys.Theme):
		m.setTheme(m.theme.Toggle())
		return nil, true

	case key.Matches(msg, m.keys.Room):
		return m.channelsCmd(true), true

	case key.Matches(msg, m.keys.Clear):
		m.clear()
		return nil, true

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.layout()
		return nil, true

	case key.Matches(msg, m.keys.Home):
		m.viewport.GotoTop()
		return nil, true

	case key.Matches(msg, m.keys.End):
		m.viewport.GotoBottom()
		return nil, true
	}
	return nil, false
}

// submit sends the input as a turn or runs it as a slash command.
func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		m.input.Reset()
		return m.runCommand(text)
	}
	if !m.inputEnabled || m.deps.Turns.Locked() {
		m.setNotice("wait for the current response", nil)
		return nil
	}
	m.input.Reset()
	m.status.Status = components.StatusStreaming
	m.setNotice("", nil)

	turns := m.deps.Turns
	return func() tea.Msg {
		_, err := turns.Submit(context.Background(), text)
		return submitDoneMsg{Err: err}
	}
}

func (m *Model) cancelCmd() tea.Cmd {
	turns := m.deps.Turns
	return func() tea.Msg {
		if err := turns.Cancel(); err != nil {
			return noticeMsg{}
		}
		return noticeMsg{Text: "response stopped"}
	}
}

// =============================================================================
// STATE HELPERS
// =============================================================================

// refreshTimeout copies the active turn's idle countdown to the status bar.
func (m *Model) refreshTimeout() {
	m.status.Remaining = 0
	if s := m.deps.Turns.Active(); s != nil {
		m.status.Remaining = s.IdleRemaining()
	}
}

func (m *Model) roomMessage(msg RoomMessageMsg) {
	rm := msg.Message
	// Our own turns and the assistant placeholder are rendered from the stream.
	if m.own[rm.MessageID] || rm.Msg == "" || rm.Sender == m.deps.Turns.Sender() {
		return
	}
	role := components.RoleUser
	if rm.IsSystem() {
		role = components.RoleSystem
	}
	m.appendMessage(&components.Message{
		Role: role,
		Name: rm.Sender,
		Text: rm.Msg,
		Time: rm.Time(),
	})
}

func (m *Model) setConnection(state components.Connection) {
	if m.status.Connection == state {
		return
	}
	m.status.Connection = state
	m.log.WithFields(logrus.Fields{
		"event": "CONNECTION_STATE",
		"state": state.String(),
	}).Debug("connection state changed")
}

func (m *Model) setSearch(on bool) {
	m.deps.Turns.SetInternetSearch(on)
	m.status.Search = on
	m.cfg.Chat.InternetSearch = on
	if on {
		m.setNotice("internet search on", nil)
	} else {
		m.setNotice("internet search off", nil)
	}
	m.persist()
}

func (m *Model) setTheme(mode styles.Mode) {
	m.cfg.UI.Theme = string(mode)
	m.retheme()
	m.setNotice("theme: "+string(mode), nil)
	m.persist()
}

// retheme pushes the theme into every component after a mode change.
func (m *Model) retheme() {
	m.header.SetTheme(m.theme)
	m.status.SetTheme(m.theme)
	m.typing.SetTheme(m.theme)
	m.view.Theme = m.theme
	m.view.Markup.SetTheme(m.theme)
	m.input.PromptStyle = m.theme.InputPrompt
	m.refresh()
}

func (m *Model) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if mode, err := styles.ParseMode(cfg.UI.Theme); err == nil && mode != m.theme.Mode {
		m.theme.SetMode(mode)
		m.retheme()
	}
	if cfg.Chat.InternetSearch != m.deps.Turns.InternetSearch() {
		m.deps.Turns.SetInternetSearch(cfg.Chat.InternetSearch)
		m.status.Search = cfg.Chat.InternetSearch
	}
	m.deps.Turns.SetIdleTimeout(cfg.IdleTimeout())
	m.view.Markup.SetCodeStyle(cfg.UI.CodeStyle)
	m.view.ShowTimestamps = cfg.UI.ShowTimestamps
	m.cfg = cfg
	m.refresh()
	m.setNotice("config reloaded", nil)
}

func (m *Model) persist() {
	if m.deps.SaveConfig == nil {
		return
	}
	if err := m.deps.SaveConfig(m.cfg); err != nil {
		m.log.WithField("event", "CONFIG_SAVE_FAILED").WithError(err).Warn("could not save config")
	}
}

func (m *Model) copyLast() {
	reply := m.lastReply()
	if reply == nil {
		m.setNotice("nothing to copy", nil)
		return
	}
	if err := m.deps.Clipboard(reply.Plain()); err != nil {
		m.setNotice("", err)
		return
	}
	m.setNotice("response copied", nil)
}

// lastReply returns the newest assistant entry with content.
func (m *Model) lastReply() *components.Message {
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.Role == components.RoleAssistant && (msg.Markup != "" || msg.Markdown != "") {
			return msg
		}
	}
	return nil
}

func (m *Model) clear() {
	m.messages = nil
	m.replies = map[string]*components.Message{}
	m.refresh()
	m.setNotice("screen cleared", nil)
}

func (m *Model) setNotice(text string, err error) {
	if err != nil {
		text = styles.StatusIndicators.Error + " " + err.Error()
		m.log.WithField("event", "UI_NOTICE").WithError(err).Warn("notice")
	}
	m.status.Notice = text
}

func (m *Model) appendMessage(msg *components.Message) {
	m.messages = append(m.messages, msg)
	m.refresh()
}

func turnErrorText(err error) string {
	var terr *session.TimeoutError
	switch {
	case errors.Is(err, session.ErrCancelled):
		return "stopped"
	case errors.As(err, &terr):
		return "no reply from the server"
	case err == nil:
		return "unknown error"
	default:
		return err.Error()
	}
}
