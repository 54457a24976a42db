// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/luna-tui/internal/ui/styles"
)

// DefaultCodeStyle is the chroma style used when none is configured.
const DefaultCodeStyle = "monokai"

// =============================================================================
// SYNTAX HIGHLIGHTING (Chroma-based)
// =============================================================================

// Highlighter colors source code for the terminal.
type Highlighter struct {
	style     *chroma.Style
	formatter chroma.Formatter
}

// NewHighlighter returns a highlighter for the named chroma style. Unknown
// names fall back to chroma's default style.
func NewHighlighter(style string) *Highlighter {
	if style == "" {
		style = DefaultCodeStyle
	}
	s := chromaStyles.Get(style)
	if s == nil {
		s = chromaStyles.Fallback
	}
	f := formatters.Get("terminal256")
	if f == nil {
		f = formatters.Fallback
	}
	return &Highlighter{style: s, formatter: f}
}

// StyleName returns the name of the active chroma style.
func (h *Highlighter) StyleName() string {
	return h.style.Name
}

// Highlight returns code with ANSI colors for language. The code is returned
// unchanged if it cannot be tokenised.
func (h *Highlighter) Highlight(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		return code
	}
	return trimAddedNewline(buf.String(), code)
}

var sgrRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// trimAddedNewline drops the newline lexers append to input that lacked
// one. Escape codes after it are kept.
func trimAddedNewline(out, code string) string {
	if strings.HasSuffix(code, "\n") {
		return out
	}
	i := strings.LastIndex(out, "\n")
	if i < 0 || sgrRE.ReplaceAllString(out[i+1:], "") != "" {
		return out
	}
	return out[:i] + out[i+1:]
}

// =============================================================================
// CODE BLOCK RENDERER
// =============================================================================

// CodeBlock is one fenced block taken from formatted markup. Comment holds
// the indexes of lines the formatter marked as comments.
type CodeBlock struct {
	Language string
	Lines    []string
	Comment  map[int]bool
}

// Render highlights the block and frames it with the theme's code style.
// Comment lines use the theme's comment style instead of chroma's colors.
func (c CodeBlock) Render(h *Highlighter, theme *styles.Theme, width int) string {
	code := strings.Join(c.Lines, "\n")
	highlighted := strings.Split(h.Highlight(code, c.Language), "\n")
	if len(highlighted) != len(c.Lines) {
		highlighted = c.Lines
	}

	out := make([]string, len(c.Lines))
	for i := range c.Lines {
		if c.Comment[i] {
			indent := len(c.Lines[i]) - len(strings.TrimLeft(c.Lines[i], " \t"))
			out[i] = c.Lines[i][:indent] + theme.Comment.Render(c.Lines[i][indent:])
			continue
		}
		out[i] = highlighted[i]
	}

	body := strings.Join(out, "\n")
	if c.Language != "" {
		body = theme.CodeLang.Render(c.Language) + "\n" + body
	}

	style := theme.Code
	if width > 4 {
		style = style.MaxWidth(width)
	}
	return style.Render(body)
}

// RenderInlineCode renders a short code span.
func RenderInlineCode(code string) string {
	return lipgloss.NewStyle().
		Foreground(styles.Cyan).
		Render(code)
}
