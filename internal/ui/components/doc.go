// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package components provides the rendering pieces of the luna chat screen.

# Content

MarkupRenderer (markup.go) turns formatter markup into terminal text: code
blocks are highlighted with chroma, comment lines use the theme's comment
style, and source anchors become underlined links (OSC 8 hyperlinks when
the terminal supports color). MarkdownRenderer (markdown.go) renders stored
history with glamour.

# Chrome

Header (header.go), StatusBar (statusbar.go) and Typing (spinner.go) frame
the transcript. Widths are measured with go-runewidth, so wide characters
truncate cleanly.

# Messages

MessageView (message.go) renders a Message for any role:

	view := &components.MessageView{
	    Theme:    theme,
	    Markup:   components.NewMarkupRenderer(theme, "monokai"),
	    Markdown: components.NewMarkdownRenderer(),
	}
	out := view.Render(msg, width)
*/
package components
