// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/muesli/termenv"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jeranaias/luna-tui/internal/ui/styles"
)

// =============================================================================
// MARKUP RENDERER
// =============================================================================

// MarkupRenderer turns the markup produced by the content formatter into
// styled terminal text. It understands the small tag set the formatter and
// its sanitizer can emit; other tags are dropped and their text kept.
type MarkupRenderer struct {
	theme       *styles.Theme
	highlighter *Highlighter
	hyperlinks  bool
}

// NewMarkupRenderer creates a renderer using theme and the named chroma style.
func NewMarkupRenderer(theme *styles.Theme, codeStyle string) *MarkupRenderer {
	return &MarkupRenderer{
		theme:       theme,
		highlighter: NewHighlighter(codeStyle),
		hyperlinks:  theme.ColorProfile != termenv.Ascii,
	}
}

// SetCodeStyle swaps the chroma style.
func (r *MarkupRenderer) SetCodeStyle(name string) {
	r.highlighter = NewHighlighter(name)
}

// SetTheme swaps the theme.
func (r *MarkupRenderer) SetTheme(theme *styles.Theme) {
	r.theme = theme
}

// SetHyperlinks enables OSC 8 hyperlinks for anchors.
func (r *MarkupRenderer) SetHyperlinks(on bool) {
	r.hyperlinks = on
}

// markupState tracks where the tokenizer is inside the markup.
type markupState struct {
	out strings.Builder

	// code block being collected
	block     *CodeBlock
	line      strings.Builder
	inComment bool

	bold   int
	href   string
	inLink bool
	label  strings.Builder
}

// Render renders markup at most width columns wide (0 means unbounded).
func (r *MarkupRenderer) Render(markup string, width int) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	st := &markupState{}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			r.flushBlock(st, width)
			return strings.TrimRight(st.out.String(), "\n")

		case html.TextToken:
			r.text(st, string(z.Text()))

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			attrs := map[string]string{}
			for hasAttr {
				var k, v []byte
				k, v, hasAttr = z.TagAttr()
				attrs[string(k)] = string(v)
			}
			r.start(st, atom.Lookup(name), attrs)

		case html.EndTagToken:
			name, _ := z.TagName()
			r.end(st, atom.Lookup(name), width)
		}
	}
}

func (r *MarkupRenderer) start(st *markupState, tag atom.Atom, attrs map[string]string) {
	switch tag {
	case atom.Pre:
		ensureNewline(&st.out)
		st.block = &CodeBlock{Comment: map[int]bool{}}
	case atom.Code:
		switch {
		case st.block == nil:
		case attrs["class"] == "comment":
			st.inComment = true
		case st.block.Language == "":
			st.block.Language = attrs["class"]
		}
	case atom.Strong, atom.B:
		st.bold++
	case atom.A:
		st.inLink = true
		st.href = attrs["href"]
		st.label.Reset()
	case atom.P, atom.Div:
		ensureNewline(&st.out)
	case atom.Br:
		st.out.WriteByte('\n')
	case atom.Li:
		ensureNewline(&st.out)
		st.out.WriteString("  - ")
	}
}

func (r *MarkupRenderer) end(st *markupState, tag atom.Atom, width int) {
	switch tag {
	case atom.Pre:
		r.flushBlock(st, width)
		st.out.WriteByte('\n')
	case atom.Code:
		st.inComment = false
	case atom.Strong, atom.B:
		if st.bold > 0 {
			st.bold--
		}
	case atom.A:
		if !st.inLink {
			return
		}
		st.inLink = false
		st.out.WriteString(r.link(st.href, st.label.String()))
	case atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol:
		ensureNewline(&st.out)
	}
}

func (r *MarkupRenderer) text(st *markupState, s string) {
	switch {
	case st.block != nil:
		for i, part := range strings.Split(s, "\n") {
			if i > 0 {
				st.block.Lines = append(st.block.Lines, st.line.String())
				st.line.Reset()
			}
			if st.inComment {
				st.block.Comment[len(st.block.Lines)] = true
			}
			st.line.WriteString(part)
		}
	case st.inLink:
		st.label.WriteString(s)
	case st.bold > 0:
		st.out.WriteString(r.theme.Bold.Render(s))
	default:
		st.out.WriteString(s)
	}
}

func (r *MarkupRenderer) flushBlock(st *markupState, width int) {
	if st.block == nil {
		return
	}
	st.block.Lines = append(st.block.Lines, st.line.String())
	st.line.Reset()
	st.out.WriteString(st.block.Render(r.highlighter, r.theme, width))
	st.block = nil
	st.inComment = false
}

func (r *MarkupRenderer) link(href, label string) string {
	if label == "" {
		label = href
	}
	styled := r.theme.Link.Render(label)
	if r.hyperlinks && href != "" {
		return termenv.Hyperlink(href, styled)
	}
	return styled
}

func ensureNewline(b *strings.Builder) {
	s := b.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteByte('\n')
	}
}

// StripMarkup returns the text content of markup with tags removed and
// entities decoded.
func StripMarkup(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.P, atom.Br, atom.Pre, atom.Div:
				ensureNewline(&b)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Pre, atom.Strong:
				ensureNewline(&b)
			}
		}
	}
}
