// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/luna-tui/internal/ui/styles"
)

// =============================================================================
// STATUS BAR COMPONENT
// =============================================================================

// Connection is the state of the stream transport.
type Connection int

const (
	Disconnected Connection = iota
	Connecting
	Connected
)

// String returns the display string for the connection.
func (c Connection) String() string {
	switch c {
	case Connected:
		return "connected"
	case Connecting:
		return "connecting"
	default:
		return "offline"
	}
}

// Status represents what the chat is doing.
type Status int

const (
	StatusReady Status = iota
	StatusStreaming
	StatusSources
	StatusError
)

// String returns the display string for the status
func (s Status) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusStreaming:
		return "Streaming..."
	case StatusSources:
		return "Sources..."
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Icon returns a text indicator so the state never relies on color alone.
func (s Status) Icon() string {
	switch s {
	case StatusReady:
		return styles.StatusIndicators.Success
	case StatusStreaming:
		return "~"
	case StatusSources:
		return styles.StatusIndicators.Pending
	case StatusError:
		return styles.StatusIndicators.Error
	default:
		return "?"
	}
}

// StatusBar is the bottom line of the chat screen.
type StatusBar struct {
	Connection Connection
	Status     Status
	Search     bool
	// Remaining is the idle time left before the active turn times out.
	Remaining  time.Duration
	Notice     string
	Width      int
	theme      *styles.Theme
}

// NewStatusBar creates a status bar.
func NewStatusBar(theme *styles.Theme) *StatusBar {
	return &StatusBar{Width: 80, theme: theme}
}

// SetTheme swaps the theme after a toggle.
func (s *StatusBar) SetTheme(theme *styles.Theme) {
	s.theme = theme
}

// View renders the bar. The left side carries state, the right side the
// notice or shortcut hints; the notice is truncated to fit.
func (s *StatusBar) View() string {
	t := s.theme
	sep := lipgloss.NewStyle().Foreground(styles.Overlay).Render(" | ")

	conn := t.StatusOK
	switch s.Connection {
	case Connecting:
		conn = t.StatusWarn
	case Disconnected:
		conn = t.StatusErr
	}

	status := t.StatusOK
	switch s.Status {
	case StatusStreaming, StatusSources:
		status = t.StatusWarn
	case StatusError:
		status = t.StatusErr
	}

	search := "search off"
	if s.Search {
		search = "search on"
	}

	left := []string{
		conn.Render(s.Connection.String()),
		status.Render(s.Status.Icon() + " " + s.Status.String()),
	}
	if wait := s.timeoutText(); wait != "" {
		left = append(left, t.ShortcutDesc.Render(wait))
	}
	if t.GetLayoutMode() != styles.LayoutNarrow {
		left = append(left, t.ShortcutDesc.Render(search))
	}
	leftText := strings.Join(left, sep)

	right := s.Notice
	if right == "" && t.GetLayoutMode() == styles.LayoutWide {
		right = s.renderShortcuts()
	} else {
		avail := s.Width - lipgloss.Width(leftText) - 4
		right = Truncate(right, avail)
	}

	gap := s.Width - lipgloss.Width(leftText) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	line := leftText + strings.Repeat(" ", gap) + right

	return t.StatusBar.
		Width(s.Width).
		MaxWidth(s.Width).
		Render(line)
}

// timeoutText shows the idle countdown while a turn is in flight.
func (s *StatusBar) timeoutText() string {
	if s.Remaining <= 0 || (s.Status != StatusStreaming && s.Status != StatusSources) {
		return ""
	}
	return fmt.Sprintf("timeout %ds", int(s.Remaining.Round(time.Second)/time.Second))
}

// renderShortcuts renders keyboard shortcut hints
func (s *StatusBar) renderShortcuts() string {
	keys := []struct{ key, desc string }{
		{"^C", "stop"},
		{"^Y", "copy"},
		{"^S", "search"},
		{"^T", "theme"},
		{"^R", "room"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, s.theme.ShortcutKey.Render(k.key)+" "+s.theme.ShortcutDesc.Render(k.desc))
	}
	return strings.Join(parts, "  ")
}
