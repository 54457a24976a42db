// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/luna-tui/internal/ui/styles"
)

// =============================================================================
// HEADER COMPONENT
// =============================================================================

// Header is the top line: brand, user, room and server.
type Header struct {
	Title  string
	User   string
	Room   string
	Server string
	Width  int
	theme  *styles.Theme
}

// NewHeader creates a header with the default title.
func NewHeader(theme *styles.Theme) *Header {
	return &Header{Title: "luna", Width: 80, theme: theme}
}

// SetTheme swaps the theme after a toggle.
func (h *Header) SetTheme(theme *styles.Theme) {
	h.theme = theme
}

// View renders the header on one line. The server address is dropped first
// when space runs out.
func (h *Header) View() string {
	t := h.theme
	left := t.HeaderBrand.Render(h.Title)
	if h.Room != "" {
		left += " " + t.RoomBadge.Render("#"+h.Room)
	}
	if h.User != "" {
		left += " " + t.Timestamp.Render("as") + " " + t.UserLabel.Render(h.User)
	}

	right := ""
	if h.Server != "" {
		avail := h.Width - lipgloss.Width(left) - 4
		if avail >= 12 {
			right = t.Timestamp.Render(runewidth.Truncate(h.Server, avail, "…"))
		}
	}

	gap := h.Width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return t.Header.
		Width(h.Width).
		MaxWidth(h.Width).
		Render(left + strings.Repeat(" ", gap) + right)
}
