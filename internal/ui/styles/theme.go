// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Mode selects the color scheme.
type Mode string

const (
	// ModeAuto follows the terminal background.
	ModeAuto  Mode = "auto"
	ModeDark  Mode = "dark"
	ModeLight Mode = "light"
)

// ParseMode accepts "auto", "dark" or "light" (case-insensitive, empty is auto).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeDark:
		return ModeDark, nil
	case ModeLight:
		return ModeLight, nil
	}
	return ModeAuto, fmt.Errorf("unknown theme %q", s)
}

// Theme holds all the styled components for the application.
// It detects the terminal's color capability and adjusts accordingly.
type Theme struct {
	// Terminal capabilities
	Mode         Mode
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// HEADER STYLES
	// ==========================================================================

	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	RoomBadge   lipgloss.Style

	// ==========================================================================
	// MESSAGE STYLES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	SystemText     lipgloss.Style
	ErrorText      lipgloss.Style
	Timestamp      lipgloss.Style
	Typing         lipgloss.Style

	// ==========================================================================
	// CONTENT STYLES
	// ==========================================================================

	Code     lipgloss.Style
	Comment  lipgloss.Style
	Bold     lipgloss.Style
	Link     lipgloss.Style
	Sources  lipgloss.Style
	CodeLang lipgloss.Style

	// ==========================================================================
	// INPUT AND STATUS STYLES
	// ==========================================================================

	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style
	StatusBar      lipgloss.Style
	StatusOK       lipgloss.Style
	StatusWarn     lipgloss.Style
	StatusErr      lipgloss.Style
	ShortcutKey    lipgloss.Style
	ShortcutDesc   lipgloss.Style
}

// NewTheme creates a theme for mode. ModeAuto asks the terminal for its
// background color.
func NewTheme(mode Mode) *Theme {
	colorProfile := termenv.ColorProfile()
	t := &Theme{
		ColorProfile: colorProfile,
		HasTrueColor: colorProfile == termenv.TrueColor,
	}
	t.SetMode(mode)
	return t
}

// SetMode switches the scheme and rebuilds every style. AdaptiveColor picks
// its variant from lipgloss' background flag, so that flag is set too.
func (t *Theme) SetMode(mode Mode) {
	t.Mode = mode
	switch mode {
	case ModeDark:
		t.IsDark = true
	case ModeLight:
		t.IsDark = false
	default:
		t.Mode = ModeAuto
		t.IsDark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(t.IsDark)
	t.initStyles()
}

// Toggle flips between dark and light and returns the new mode.
func (t *Theme) Toggle() Mode {
	if t.IsDark {
		t.SetMode(ModeLight)
	} else {
		t.SetMode(ModeDark)
	}
	return t.Mode
}

func (t *Theme) initStyles() {
	// Header
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextPrimary).
		Padding(0, 1)

	t.HeaderBrand = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.RoomBadge = lipgloss.NewStyle().
		Foreground(Purple).
		Bold(true)

	// Messages
	t.UserLabel = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.AssistantLabel = lipgloss.NewStyle().
		Foreground(Purple).
		Bold(true)

	t.SystemText = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	t.ErrorText = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true)

	t.Timestamp = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.Typing = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Italic(true)

	// Content
	t.Code = lipgloss.NewStyle().
		Background(CodeBackground).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(Overlay).
		BorderLeft(true).
		PaddingLeft(1)

	t.Comment = lipgloss.NewStyle().
		Foreground(CommentColor).
		Italic(true)

	t.Bold = lipgloss.NewStyle().
		Bold(true)

	// Underline keeps links visible without color.
	t.Link = lipgloss.NewStyle().
		Foreground(LinkColor).
		Underline(true)

	t.Sources = lipgloss.NewStyle().
		Foreground(TextSecondary).
		MarginTop(1)

	t.CodeLang = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	// Input area
	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(Overlay).
		Padding(0, 1)

	t.InputPrompt = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	// Status bar
	t.StatusBar = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextSecondary).
		Padding(0, 1)

	t.StatusOK = lipgloss.NewStyle().
		Foreground(Emerald).
		Bold(true)

	t.StatusWarn = lipgloss.NewStyle().
		Foreground(Amber).
		Bold(true)

	t.StatusErr = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true)

	t.ShortcutKey = lipgloss.NewStyle().
		Foreground(Cyan)

	t.ShortcutDesc = lipgloss.NewStyle().
		Foreground(TextMuted)
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GetLayoutMode returns the current layout mode based on width.
func (t *Theme) GetLayoutMode() LayoutMode {
	if t.Width < 60 {
		return LayoutNarrow
	}
	if t.Width < 100 {
		return LayoutMedium
	}
	return LayoutWide
}

// LayoutMode represents the current responsive layout mode.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns
	LayoutMedium                   // 60-100 columns
	LayoutWide                     // > 100 columns
)
