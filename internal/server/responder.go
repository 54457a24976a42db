// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/url"
	"strings"

	"github.com/jeranaias/luna-tui/internal/protocol"
)

// =============================================================================
// RESPONDER
// =============================================================================

// Reply scripts the server side of one turn.
type Reply struct {
	// Chunks are streamed between the start and end markers.
	Chunks []string

	// Sources is sent with the metadata event (nil sends an empty map).
	Sources protocol.Sources

	// SkipStart omits the start marker.
	SkipStart bool

	// SkipEnd omits the end marker and the metadata event.
	SkipEnd bool

	// Disconnect drops the connection after the chunks.
	Disconnect bool
}

// Responder produces the reply for a turn.
type Responder func(turn protocol.Turn) Reply

// EchoResponder answers with the question, a python sample when the text
// mentions code, and one source per room.
func EchoResponder(turn protocol.Turn) Reply {
	var chunks []string
	for _, word := range strings.Fields("You asked: " + turn.Text) {
		chunks = append(chunks, word+" ")
	}

	if strings.Contains(strings.ToLower(turn.Text), "code") {
		chunks = append(chunks,
			"\n```python\n",
			"# say hello\n",
			"print('hello')\n",
			"```\n",
		)
	}

	room := turn.Room
	if room == "" {
		room = "general"
	}
	sources := protocol.Sources{
		"docs/" + room + ".pdf": {Pages: []int{1, 2}},
	}
	if turn.InternetSearch {
		sources["https://duckduckgo.com/?q="+url.QueryEscape(turn.Text)] = protocol.SourceRef{}
	}
	return Reply{Chunks: chunks, Sources: sources}
}
