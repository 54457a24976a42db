// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"

	"github.com/jeranaias/luna-tui/internal/format"
	"github.com/jeranaias/luna-tui/internal/protocol"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a standalone HTML page.
type HTMLExporter struct {
	options   *Options
	formatter *format.Formatter
}

// NewHTMLExporter creates a new HTML exporter. Assistant replies are run
// through a sanitizing formatter; everything else is escaped.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	fopts := format.DefaultOptions()
	fopts.Sanitize = true
	return &HTMLExporter{options: opts, formatter: format.New(fopts)}
}

// Export converts a conversation to HTML.
func (e *HTMLExporter) Export(conv *Conversation) ([]byte, error) {
	if conv == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	msgs := conv.visible(e.options.IncludeSystem)
	if len(msgs) == 0 {
		return nil, ErrEmpty
	}

	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", html.EscapeString(conv.Title()))
	sb.WriteString("    <meta name=\"generator\" content=\"luna-tui\">\n")
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n", theme)
	sb.WriteString("    <div class=\"container\">\n")

	if e.options.IncludeMetadata {
		e.renderHeader(&sb, conv, len(msgs))
	}

	sb.WriteString("        <main class=\"conversation\">\n")
	for _, msg := range msgs {
		e.renderMessage(&sb, msg)
	}
	sb.WriteString("        </main>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	fmt.Fprintf(&sb, "            <p>Exported from <strong>Luna</strong> on %s</p>\n",
		conv.ExportedAt.Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString(script)
	sb.WriteString("</body>\n</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(sb *strings.Builder, conv *Conversation, count int) {
	sb.WriteString("        <header class=\"header\">\n")
	fmt.Fprintf(sb, "            <h1>%s</h1>\n", html.EscapeString(conv.Title()))
	sb.WriteString("            <div class=\"metadata\">\n")
	fmt.Fprintf(sb, "                <span class=\"meta-item\"><strong>User:</strong> %s</span>\n", html.EscapeString(conv.User))
	if conv.ID != "" {
		fmt.Fprintf(sb, "                <span class=\"meta-item\"><strong>Conversation:</strong> %s</span>\n", html.EscapeString(conv.ID))
	}
	fmt.Fprintf(sb, "                <span class=\"meta-item\"><strong>Messages:</strong> %d</span>\n", count)
	fmt.Fprintf(sb, "                <span class=\"meta-item\"><strong>Exported:</strong> %s</span>\n", formatTimestamp(conv.ExportedAt))
	sb.WriteString("                <button class=\"theme-toggle\" onclick=\"toggleTheme()\" title=\"Toggle theme\">[Theme]</button>\n")
	sb.WriteString("            </div>\n")
	sb.WriteString("        </header>\n")
}

func (e *HTMLExporter) renderMessage(sb *strings.Builder, msg protocol.RoomMessage) {
	class := senderClass(msg)
	fmt.Fprintf(sb, "            <div class=\"message %s-message\">\n", class)

	sb.WriteString("                <div class=\"message-header\">\n")
	fmt.Fprintf(sb, "                    <span class=\"role-label\">%s</span>\n", html.EscapeString(senderLabel(msg)))
	if e.options.IncludeTimestamps && msg.Timestamp != "" {
		fmt.Fprintf(sb, "                    <span class=\"timestamp\">%s</span>\n", html.EscapeString(messageTime(msg)))
	}
	sb.WriteString("                </div>\n")

	sb.WriteString("                <div class=\"message-content\">")
	if class == "assistant" {
		sb.WriteString(e.formatter.Transform(strings.TrimSpace(msg.Msg)))
	} else {
		sb.WriteString(html.EscapeString(strings.TrimSpace(msg.Msg)))
	}
	sb.WriteString("</div>\n")

	sb.WriteString("            </div>\n")
}

// =============================================================================
// EMBEDDED CSS / JAVASCRIPT
// =============================================================================

const css = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", "Source Code Pro", monospace;
        }

        .dark-theme {
            --bg-primary: #1a1b26;
            --bg-secondary: #24283b;
            --bg-tertiary: #414868;
            --text-primary: #c0caf5;
            --text-muted: #565f89;
            --user-bg: #1f2335;
            --code-bg: #1a1b26;
            --accent-blue: #7aa2f7;
            --accent-green: #9ece6a;
            --accent-purple: #bb9af7;
        }

        .light-theme {
            --bg-primary: #ffffff;
            --bg-secondary: #f7f8fa;
            --bg-tertiary: #e1e4e8;
            --text-primary: #24292e;
            --text-muted: #6a737d;
            --user-bg: #f6f8fa;
            --code-bg: #f6f8fa;
            --accent-blue: #0366d6;
            --accent-green: #22863a;
            --accent-purple: #6f42c1;
        }

        body {
            font-family: var(--font-sans);
            line-height: 1.6;
            color: var(--text-primary);
            background: var(--bg-primary);
            padding: 20px;
        }

        .container { max-width: 900px; margin: 0 auto; background: var(--bg-secondary); border-radius: 12px; overflow: hidden; }
        .header { padding: 32px; background: var(--bg-tertiary); }
        .header h1 { font-size: 26px; margin-bottom: 12px; }
        .metadata { display: flex; flex-wrap: wrap; gap: 16px; font-size: 14px; align-items: center; }
        .theme-toggle { margin-left: auto; padding: 4px 10px; border-radius: 6px; cursor: pointer; }

        .conversation { padding: 24px 32px; }
        .message { margin-bottom: 20px; padding: 16px 20px; border-radius: 8px; border-left: 4px solid transparent; }
        .user-message { background: var(--user-bg); border-left-color: var(--accent-blue); }
        .assistant-message { background: var(--bg-secondary); border-left-color: var(--accent-green); }
        .system-message { background: var(--bg-tertiary); border-left-color: var(--accent-purple); font-style: italic; }
        .message-header { display: flex; justify-content: space-between; margin-bottom: 8px; font-size: 14px; }
        .role-label { font-weight: 600; }
        .timestamp { color: var(--text-muted); font-family: var(--font-mono); font-size: 13px; }
        .message-content { white-space: pre-wrap; }

        pre { background: var(--code-bg); padding: 12px; border-radius: 6px; overflow-x: auto; margin: 8px 0; }
        code { font-family: var(--font-mono); font-size: 14px; }
        code.comment { color: var(--text-muted); }

        .footer { padding: 16px 32px; font-size: 13px; color: var(--text-muted); }
    </style>
`

const script = `    <script>
        function toggleTheme() {
            const body = document.body;
            const next = body.classList.contains('dark-theme') ? 'light' : 'dark';
            body.classList.remove('dark-theme', 'light-theme');
            body.classList.add(next + '-theme');
            localStorage.setItem('theme', next);
        }
        document.addEventListener('DOMContentLoaded', function() {
            const saved = localStorage.getItem('theme');
            if (saved) {
                document.body.classList.remove('dark-theme', 'light-theme');
                document.body.classList.add(saved + '-theme');
            }
        });
    </script>
`
