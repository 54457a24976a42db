// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// MarkdownRenderer renders stored history, which keeps the assistant's raw
// markdown, with glamour. Renderers are cached per width and mode.
type MarkdownRenderer struct {
	mu    sync.Mutex
	cache map[markdownKey]*glamour.TermRenderer
}

type markdownKey struct {
	width int
	dark  bool
}

// NewMarkdownRenderer creates an empty renderer cache.
func NewMarkdownRenderer() *MarkdownRenderer {
	return &MarkdownRenderer{cache: map[markdownKey]*glamour.TermRenderer{}}
}

// Render renders text at width columns. On any glamour error the text is
// returned as is.
func (m *MarkdownRenderer) Render(text string, width int, dark bool) string {
	if width <= 0 {
		width = 80
	}
	r, err := m.renderer(markdownKey{width: width, dark: dark})
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

func (m *MarkdownRenderer) renderer(key markdownKey) (*glamour.TermRenderer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.cache[key]; ok {
		return r, nil
	}
	style := "light"
	if key.dark {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(key.width),
	)
	if err != nil {
		return nil, err
	}
	m.cache[key] = r
	return r, nil
}

// RenderMarkdown renders text once with the terminal's own style. It is used
// by the non-interactive commands.
func RenderMarkdown(text string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}
