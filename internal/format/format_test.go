// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package format

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/luna-tui/internal/protocol"
)

// =============================================================================
// TRANSFORM TESTS
// =============================================================================

func TestTransform(t *testing.T) {
	f := Default()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text passes through",
			in:   "<p>Hello there</p>",
			want: "<p>Hello there</p>",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
		{
			name: "python block",
			in:   "Look:\n```python\nx = 1\n```\ndone",
			want: "Look:\n<pre><code class=\"python\">x = 1\n</code></pre>\ndone",
		},
		{
			name: "comment lines wrapped",
			in:   "```python\n# setup\nx = 1\n    # nested\n```",
			want: "<pre><code class=\"python\"><code class=\"comment\"># setup</code>\nx = 1\n    <code class=\"comment\"># nested</code>\n</code></pre>",
		},
		{
			name: "two python blocks",
			in:   "a```python a```b```python b```c",
			want: "a<pre><code class=\"python\">a</code></pre>b<pre><code class=\"python\">b</code></pre>c",
		},
		{
			name: "unterminated python block suppressed",
			in:   "Intro\n```python\ndef f():\n    return 1",
			want: "Intro\n",
		},
		{
			name: "unterminated html block removed",
			in:   "Answer ```html\n<div>partial",
			want: "Answer ",
		},
		{
			name: "terminated html block passes through",
			in:   "```html\n<b>x</b>\n```",
			want: "```html\n<b>x</b>\n```",
		},
		{
			name: "other language untouched",
			in:   "```go\nfmt.Println()\n```",
			want: "```go\nfmt.Println()\n```",
		},
		{
			name: "other language unterminated untouched",
			in:   "```go\nfmt.Println()",
			want: "```go\nfmt.Println()",
		},
		{
			name: "opener still streaming held back",
			in:   "Here ```pyt",
			want: "Here ",
		},
		{
			name: "bare fence at end held back",
			in:   "Here ```",
			want: "Here ",
		},
		{
			name: "tag match is case-insensitive",
			in:   "```Python\nx\n```",
			want: "<pre><code class=\"python\">x\n</code></pre>",
		},
		{
			name: "complete block then open block",
			in:   "```python\na\n```\nthen ```python\nb",
			want: "<pre><code class=\"python\">a\n</code></pre>\nthen ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Transform(tt.in))
		})
	}
}

func TestTransformIdempotent(t *testing.T) {
	f := Default()

	inputs := []string{
		"",
		"plain <p>html</p> answer",
		"```python\n# c\nprint(1)\n```",
		"a```python x```b```html\n<i>y</i>\n```c",
		"```go\nx := 1\n```\n```python\ny = 2\n```",
		"no fences at all\nwith lines",
	}

	for _, in := range inputs {
		once := f.Transform(in)
		twice := f.Transform(once)
		assert.Equal(t, once, twice, "input %q", in)
	}
}

func TestTransformDeterministic(t *testing.T) {
	f := Default()
	in := "x```python\n# a\nb\n```y"
	assert.Equal(t, f.Transform(in), f.Transform(in))
}

func TestTransformStreamingPrefixes(t *testing.T) {
	f := Default()
	full := "Intro ```python\n# hi\nx = 1\n``` outro"

	// No prefix of a streamed block may leak a fence or a half block.
	for i := 0; i < len(full); i++ {
		got := f.Transform(full[:i])
		assert.NotContains(t, got, "```python", "prefix %q", full[:i])
		if strings.Contains(got, "<pre>") {
			assert.Contains(t, got, "</code></pre>", "prefix %q", full[:i])
		}
	}
}

func TestFinishFlushesHeldOpener(t *testing.T) {
	f := Default()

	tests := []struct {
		name      string
		raw       string
		streaming string
		final     string
	}{
		{"bare fence", "costs 5```", "costs 5", "costs 5```"},
		{"other language", "done.\n```js", "done.\n", "done.\n```js"},
		{"allowed language", "see ```python", "see ", "see "},
		{"disallowed language", "see ```html", "see ", "see "},
		{"no opener", "plain", "plain", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.streaming, f.Transform(tt.raw))
			assert.Equal(t, tt.final, f.Finish(tt.raw))
		})
	}
}

func TestFinishMatchesTransformForCompleteText(t *testing.T) {
	f := Default()
	raw := "Intro ```python\n# hi\nx = 1\n``` outro"
	assert.Equal(t, f.Transform(raw), f.Finish(raw))
}

// =============================================================================
// OPTIONS TESTS
// =============================================================================

func TestNewDefaults(t *testing.T) {
	f := New(Options{})
	assert.Equal(t, "python", f.allowed)
	assert.True(t, f.disallowed["html"])
	assert.Equal(t, "#", f.comment)
	assert.Nil(t, f.policy)
}

func TestCustomLanguage(t *testing.T) {
	f := New(Options{Allowed: "sql", CommentMarker: "--", Disallowed: []string{}})

	got := f.Transform("```sql\n-- all\nSELECT 1\n```")
	assert.Equal(t, "<pre><code class=\"sql\"><code class=\"comment\">-- all</code>\nSELECT 1\n</code></pre>", got)

	// html is no longer special
	assert.Equal(t, "```html\n<b>", f.Transform("```html\n<b>"))
}

func TestSanitize(t *testing.T) {
	f := New(Options{Sanitize: true})

	got := f.Transform(`<p onclick="x()">hi</p><script>alert(1)</script>`)
	assert.Equal(t, "<p>hi</p>", got)

	got = f.Transform("```python\nif a < b:\n    pass\n```")
	assert.Equal(t, "<pre><code class=\"python\">if a &lt; b:\n    pass\n</code></pre>", got)

	once := f.Transform("<p>x</p>```python\n# c\n```")
	assert.Equal(t, once, f.Transform(once))
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestFormatInvalidUTF8(t *testing.T) {
	f := Default()
	raw := "bad \xff bytes"

	_, err := f.Format(raw)
	require.Error(t, err)

	var fe *FormattingError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Error(), "UTF-8")

	// Transform degrades to passthrough instead of failing.
	assert.Equal(t, raw, f.Transform(raw))
}

// =============================================================================
// SOURCES TESTS
// =============================================================================

func TestSourcesMarkup(t *testing.T) {
	f := Default()

	got := f.SourcesMarkup(protocol.Sources{
		"docs/b.pdf": {Pages: nil},
		"docs/a.pdf": {Pages: []int{1, 2}},
	})

	want := `<strong>Sources:</strong>` +
		`<p><a href="docs/a.pdf" target="_blank">docs/a.pdf (pages: 1, 2)</a></p>` +
		`<p><a href="docs/b.pdf" target="_blank">docs/b.pdf</a></p>`
	assert.Equal(t, want, got)
}

func TestSourcesMarkupEmpty(t *testing.T) {
	assert.Equal(t, "<strong>Sources:</strong>", Default().SourcesMarkup(nil))
}
