// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package format turns the raw text accumulated for an assistant turn into
// renderable markup.
//
// The formatter is a two-state tokenizer (outside a fenced block / inside a
// fenced block). It runs over the whole buffer on every chunk, so it must be
// deterministic and idempotent: formatting already formatted text that only
// contains well-formed blocks returns it unchanged.
//
// Fence handling:
//
//   - allowed language (python): a terminated block becomes
//     <pre><code class="python">...</code></pre> with comment lines wrapped
//     in <code class="comment">...</code>
//   - disallowed languages (html): passed through once terminated, removed
//     while still open
//   - anything else: passed through untouched
//
// An allowed or disallowed block that has not been closed yet is suppressed,
// so a half-streamed block never shows up as raw markup.
package format

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jeranaias/luna-tui/internal/protocol"
)

// Fence is the code fence delimiter.
const Fence = "```"

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Formatter.
type Options struct {
	// Allowed is the language rendered as a code block (default: python).
	Allowed string

	// Disallowed languages are suppressed while unterminated (default: html).
	Disallowed []string

	// CommentMarker starts a comment line inside an allowed block (default: #).
	CommentMarker string

	// Sanitize runs plain text through a bluemonday policy and escapes code
	// bodies. Off by default to match the server's HTML answers as-is.
	Sanitize bool
}

// DefaultOptions returns the options matching the Luna web client.
func DefaultOptions() Options {
	return Options{
		Allowed:       "python",
		Disallowed:    []string{"html"},
		CommentMarker: "#",
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// FormattingError reports input the formatter could not safely handle.
// Callers normally never see it: Transform falls back to the raw text.
type FormattingError struct {
	Reason string
}

func (e *FormattingError) Error() string {
	return "formatting failed: " + e.Reason
}

// =============================================================================
// FORMATTER
// =============================================================================

// Formatter converts raw turn text to markup. It is safe for concurrent use.
type Formatter struct {
	allowed    string
	disallowed map[string]bool
	comment    string
	sanitize   bool
	policy     *bluemonday.Policy
}

// New creates a formatter. Empty option fields take their defaults.
func New(opts Options) *Formatter {
	defaults := DefaultOptions()
	if opts.Allowed == "" {
		opts.Allowed = defaults.Allowed
	}
	if opts.Disallowed == nil {
		opts.Disallowed = defaults.Disallowed
	}
	if opts.CommentMarker == "" {
		opts.CommentMarker = defaults.CommentMarker
	}

	f := &Formatter{
		allowed:    strings.ToLower(opts.Allowed),
		disallowed: make(map[string]bool, len(opts.Disallowed)),
		comment:    opts.CommentMarker,
		sanitize:   opts.Sanitize,
	}
	for _, lang := range opts.Disallowed {
		f.disallowed[strings.ToLower(lang)] = true
	}
	if opts.Sanitize {
		f.policy = newPolicy()
	}
	return f
}

// Default returns a formatter with DefaultOptions.
func Default() *Formatter {
	return New(DefaultOptions())
}

// newPolicy returns the UGC policy extended with the attributes the
// formatter itself emits.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span")
	p.AllowAttrs("target").Matching(bluemonday.SpaceSeparatedTokens).OnElements("a")
	return p
}

// Transform formats raw text. It never fails: on a FormattingError the raw
// text is returned unformatted.
func (f *Formatter) Transform(raw string) string {
	out, err := f.Format(raw)
	if err != nil {
		return raw
	}
	return out
}

// Finish formats the final text of a completed turn. An opener still held
// back at the end of raw is resolved as an unterminated block instead of
// being dropped.
func (f *Formatter) Finish(raw string) string {
	out, err := f.format(raw, true)
	if err != nil {
		return raw
	}
	return out
}

type langKind int

const (
	langOther langKind = iota
	langAllowed
	langDisallowed
)

func (f *Formatter) classify(tag string) langKind {
	tag = strings.ToLower(tag)
	switch {
	case tag == f.allowed:
		return langAllowed
	case f.disallowed[tag]:
		return langDisallowed
	default:
		return langOther
	}
}

// Format formats raw text and reports a FormattingError instead of falling
// back.
func (f *Formatter) Format(raw string) (string, error) {
	return f.format(raw, false)
}

func (f *Formatter) format(raw string, final bool) (out string, err error) {
	if !utf8.ValidString(raw) {
		return "", &FormattingError{Reason: "input is not valid UTF-8"}
	}
	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = &FormattingError{Reason: fmt.Sprint(r)}
		}
	}()

	var b strings.Builder
	b.Grow(len(raw) + 64)

	rest := raw
	for {
		start := strings.Index(rest, Fence)
		if start < 0 {
			f.writeText(&b, rest)
			break
		}
		f.writeText(&b, rest[:start])

		tag, body, complete := splitOpener(rest[start+len(Fence):])
		if !complete && !final {
			// The opener (or its language tag) is still arriving.
			break
		}

		end := strings.Index(body, Fence)
		kind := f.classify(tag)
		if end < 0 {
			if kind == langOther {
				f.writeText(&b, rest[start:])
			}
			break
		}

		blockEnd := len(rest) - len(body) + end + len(Fence)
		if kind == langAllowed {
			f.writeCode(&b, body[:end])
		} else {
			f.writeText(&b, rest[start:blockEnd])
		}
		rest = rest[blockEnd:]
	}

	return b.String(), nil
}

// splitOpener splits the text after an opening fence into the language tag
// and the block body. The opener is complete once the tag is followed by a
// whitespace character, which is consumed.
func splitOpener(s string) (tag, body string, complete bool) {
	for i, r := range s {
		if unicode.IsSpace(r) {
			return s[:i], s[i+utf8.RuneLen(r):], true
		}
	}
	return s, "", false
}

func (f *Formatter) writeText(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	if f.policy != nil {
		s = f.policy.Sanitize(s)
	}
	b.WriteString(s)
}

func (f *Formatter) writeCode(b *strings.Builder, body string) {
	b.WriteString(`<pre><code class="`)
	b.WriteString(f.allowed)
	b.WriteString(`">`)
	for i, line := range strings.Split(body, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		if f.sanitize {
			line = html.EscapeString(line)
		}
		trimmed := strings.TrimLeft(line, " \t")
		if f.comment != "" && strings.HasPrefix(trimmed, f.comment) {
			b.WriteString(line[:len(line)-len(trimmed)])
			b.WriteString(`<code class="comment">`)
			b.WriteString(trimmed)
			b.WriteString(`</code>`)
			continue
		}
		b.WriteString(line)
	}
	b.WriteString(`</code></pre>`)
}

// =============================================================================
// METADATA BLOCK
// =============================================================================

// SourcesMarkup renders the trailing metadata block of a turn.
func (f *Formatter) SourcesMarkup(sources protocol.Sources) string {
	var b strings.Builder
	b.WriteString("<strong>Sources:</strong>")
	for _, key := range sources.Keys() {
		label := key
		if pages := sources[key].PagesLabel(); pages != "" {
			label += " (pages: " + pages + ")"
		}
		href := key
		if f.sanitize {
			href = html.EscapeString(href)
			label = html.EscapeString(label)
		}
		fmt.Fprintf(&b, `<p><a href="%s" target="_blank">%s</a></p>`, href, label)
	}
	return b.String()
}
