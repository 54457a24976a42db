// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/luna-tui/internal/ui/styles"
)

// =============================================================================
// MESSAGE COMPONENT
// =============================================================================

// Role says who a transcript entry belongs to.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
	RoleSystem
	RoleError
)

// Message is one transcript entry as the view sees it.
type Message struct {
	ID   string
	Role Role
	Name string

	// Text is plain text for user and system entries.
	Text string

	// Markup is formatter output for live assistant turns. Markdown is raw
	// assistant text loaded from history.
	Markup   string
	Markdown string

	// Sources is the rendered metadata block, if any.
	Sources string

	Streaming bool
	Failed    bool
	Err       string
	Time      time.Time
}

// Plain returns the entry as unstyled text, used for the clipboard. Code
// markup is reduced to its text.
func (m *Message) Plain() string {
	switch {
	case m.Markdown != "":
		return m.Markdown
	case m.Markup != "":
		return StripMarkup(m.Markup)
	default:
		return m.Text
	}
}

// MessageView renders messages with shared renderers.
type MessageView struct {
	Theme          *styles.Theme
	Markup         *MarkupRenderer
	Markdown       *MarkdownRenderer
	ShowTimestamps bool
}

// Render renders m at width columns.
func (v *MessageView) Render(m *Message, width int) string {
	t := v.Theme
	var b strings.Builder

	header := ""
	switch m.Role {
	case RoleUser:
		header = t.UserLabel.Render(nameOr(m.Name, "You"))
	case RoleAssistant:
		header = t.AssistantLabel.Render(nameOr(m.Name, "Luna"))
	}
	if header != "" {
		if v.ShowTimestamps && !m.Time.IsZero() {
			header += " " + t.Timestamp.Render(m.Time.Format("15:04"))
		}
		b.WriteString(header)
		b.WriteByte('\n')
	}

	switch m.Role {
	case RoleSystem:
		b.WriteString(t.SystemText.Render(Wrap(m.Text, width)))
	case RoleError:
		b.WriteString(styles.RenderError(Wrap(m.Text, width)))
	case RoleUser:
		b.WriteString(Wrap(m.Text, width))
	case RoleAssistant:
		switch {
		case m.Markdown != "":
			b.WriteString(v.Markdown.Render(m.Markdown, width, t.IsDark))
		case m.Markup != "":
			b.WriteString(wrapStyled(v.Markup.Render(m.Markup, width), width))
		case m.Streaming:
			b.WriteString(t.Typing.Render("..."))
		}
		if m.Sources != "" {
			b.WriteByte('\n')
			b.WriteString(t.Sources.Render(v.Markup.Render(m.Sources, width)))
		}
		if m.Failed {
			b.WriteByte('\n')
			msg := "response failed"
			if m.Err != "" {
				msg += ": " + m.Err
			}
			b.WriteString(styles.RenderError(Truncate(msg, width)))
		}
	}
	return b.String()
}

// wrapStyled wraps text that already carries ANSI styling.
func wrapStyled(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
