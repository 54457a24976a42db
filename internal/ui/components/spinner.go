// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/luna-tui/internal/ui/styles"
)

// =============================================================================
// TYPING INDICATOR
// =============================================================================

// Typing shows that a reply is on its way, with the time since the prompt
// was sent.
type Typing struct {
	spinner   spinner.Model
	message   string
	startTime time.Time
	active    bool
	theme     *styles.Theme
}

// NewTyping creates an inactive indicator with ASCII frames.
func NewTyping(theme *styles.Theme) Typing {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	return Typing{spinner: s, message: "Luna is typing", theme: theme}
}

// SetTheme swaps the theme after a toggle.
func (t *Typing) SetTheme(theme *styles.Theme) {
	t.theme = theme
}

// SetMessage sets the text next to the spinner.
func (t *Typing) SetMessage(msg string) {
	t.message = msg
}

// Start activates the indicator and returns the first tick.
func (t *Typing) Start() tea.Cmd {
	if t.active {
		return nil
	}
	t.active = true
	t.startTime = time.Now()
	return t.spinner.Tick
}

// Stop hides the indicator.
func (t *Typing) Stop() {
	t.active = false
}

// IsActive reports whether the indicator is shown.
func (t *Typing) IsActive() bool {
	return t.active
}

// Update advances the animation while active.
func (t Typing) Update(msg tea.Msg) (Typing, tea.Cmd) {
	if !t.active {
		return t, nil
	}
	var cmd tea.Cmd
	t.spinner, cmd = t.spinner.Update(msg)
	return t, cmd
}

// View renders the indicator, or nothing when inactive.
func (t Typing) View() string {
	if !t.active {
		return ""
	}
	return t.theme.AssistantLabel.Render(t.spinner.View()) + " " +
		t.theme.Typing.Render(t.message+"...") +
		t.theme.Timestamp.Render(" ("+formatElapsed(time.Since(t.startTime))+")")
}

func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
