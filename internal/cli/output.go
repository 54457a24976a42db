// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/luna-tui/internal/api"
	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/ui/chat"
	"github.com/jeranaias/luna-tui/internal/ui/components"
)

// =============================================================================
// OUTPUT FORMATS
// =============================================================================

// Output formats accepted by -o.
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case OutputText, OutputJSON, OutputYAML:
		return nil
	}
	return usageErrorf("unsupported output format %q (want text, json or yaml)", format)
}

// writeData encodes v as JSON or YAML.
func writeData(w io.Writer, format string, v any) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return usageErrorf("unsupported output format %q", format)
}

// =============================================================================
// HISTORY
// =============================================================================

// historyEntry is the structured form of one history line.
type historyEntry struct {
	Sender    string `json:"sender" yaml:"sender"`
	Timestamp string `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Message   string `json:"message" yaml:"message"`
}

// latestConversation returns the newest conversation id of user in room,
// or "" when there is none.
func latestConversation(ctx context.Context, lib chat.Library, user, room string) (string, error) {
	convs, err := lib.Conversations(ctx, user)
	if err != nil {
		return "", err
	}
	ids := convs[room]
	if len(ids) == 0 {
		return "", nil
	}
	return ids[len(ids)-1], nil
}

// writeHistory prints a conversation. Assistant replies are Markdown and
// are rendered with glamour in text mode when markdown is set.
func writeHistory(w io.Writer, format string, msgs []api.HistoryMessage, user string, width int, markdown bool) error {
	if format != OutputText {
		entries := make([]historyEntry, len(msgs))
		for i, m := range msgs {
			entries[i] = historyEntry{Sender: m.Sender, Timestamp: m.Timestamp, Message: m.Msg}
		}
		return writeData(w, format, entries)
	}

	if len(msgs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("(no messages)"))
		return nil
	}
	for _, m := range msgs {
		stamp := ""
		if !m.Time().IsZero() {
			stamp = DimStyle.Render(m.Time().Format("15:04")) + " "
		}
		switch {
		case m.IsSystem():
			fmt.Fprintf(w, "%s%s\n", stamp, DimStyle.Render(m.Msg))
		case m.Sender == user:
			fmt.Fprintf(w, "%s%s %s\n", stamp, userStyle.Render(m.Sender+":"), m.Msg)
		default:
			body := m.Msg
			if markdown {
				body = strings.Trim(components.RenderMarkdown(m.Msg, width), "\n")
			}
			fmt.Fprintf(w, "%s%s\n%s\n", stamp, assistantStyle.Render(m.Sender+":"), body)
		}
	}
	return nil
}

// writeConversations prints the room to conversation ids map.
func writeConversations(w io.Writer, format string, convs map[string][]string) error {
	if format != OutputText {
		if convs == nil {
			convs = map[string][]string{}
		}
		return writeData(w, format, convs)
	}
	if len(convs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("(no conversations)"))
		return nil
	}
	rooms := make([]string, 0, len(convs))
	for r := range convs {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	for _, r := range rooms {
		fmt.Fprintln(w, TitleStyle.Render("#"+r))
		for _, id := range convs[r] {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	return nil
}

// writeChannels prints the channel list, marking current.
func writeChannels(w io.Writer, format string, channels []string, current string) error {
	if format != OutputText {
		if channels == nil {
			channels = []string{}
		}
		return writeData(w, format, channels)
	}
	for _, ch := range channels {
		marker := "  "
		if ch == current {
			marker = SuccessStyle.Render("*") + " "
		}
		fmt.Fprintf(w, "%s#%s\n", marker, ch)
	}
	return nil
}

// writeSources prints a sources map one reference per line.
func writeSources(w io.Writer, sources protocol.Sources) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, DimStyle.Render("Sources:"))
	for _, key := range sources.Keys() {
		line := "  " + key
		if pages := sources[key].PagesLabel(); pages != "" {
			line += " (pages " + pages + ")"
		}
		fmt.Fprintln(w, DimStyle.Render(line))
	}
}
