// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.ready = true
	m.theme.SetSize(width, height)
	m.header.Width = width
	m.status.Width = width
	m.input.Width = width - 4
	m.help.Width = width
	m.layout()
}

// layout gives the viewport whatever the chrome leaves.
func (m *Model) layout() {
	chrome := lipgloss.Height(m.header.View()) +
		lipgloss.Height(m.status.View()) +
		lipgloss.Height(m.inputView()) + 1
	if m.showHelp {
		chrome += lipgloss.Height(m.help.View(m.keys))
	}
	h := m.height - chrome
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.refresh()
}

// refresh re-renders the transcript and follows the bottom if the view was
// already there.
func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom() || m.viewport.TotalLineCount() <= m.viewport.Height
	m.viewport.SetContent(m.transcript())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) transcript() string {
	width := m.width - 2
	if width < 20 {
		width = 20
	}
	if len(m.messages) == 0 {
		return m.theme.SystemText.Render("No messages yet. Type a question and press Enter.")
	}
	parts := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		parts = append(parts, m.view.Render(msg, width))
	}
	return strings.Join(parts, "\n\n")
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the screen.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Connecting to Luna..."
	}

	sections := []string{
		m.header.View(),
		m.viewport.View(),
		m.inputView(),
		m.status.View(),
	}
	if m.showHelp {
		sections = append(sections, m.help.View(m.keys))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) inputView() string {
	content := m.input.View()
	if m.typing.IsActive() {
		content = m.typing.View()
	} else if !m.inputEnabled {
		content = m.theme.Typing.Render("waiting for Luna...")
	}
	return m.theme.InputContainer.Width(m.width).Render(content)
}
