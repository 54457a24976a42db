// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/luna-tui/internal/api"
	"github.com/jeranaias/luna-tui/internal/config"
	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/ui/components"
)

// =============================================================================
// TURN MESSAGES (sent by Sink)
// =============================================================================

// OutgoingMsg shows the user's message.
type OutgoingMsg struct {
	ID   string
	Text string
}

// TypingMsg shows the typing placeholder for a turn.
type TypingMsg struct {
	ID string
}

// AttachMsg replaces the placeholder with an empty response.
type AttachMsg struct {
	ID string
}

// ResponseMsg replaces the response content.
type ResponseMsg struct {
	ID     string
	Markup string
}

// MetadataMsg appends the sources block.
type MetadataMsg struct {
	ID      string
	Sources protocol.Sources
	Markup  string
}

// TurnErrorMsg shows an error in place of the response.
type TurnErrorMsg struct {
	ID  string
	Err error
}

// InputEnabledMsg enables or disables the input.
type InputEnabledMsg struct {
	Enabled bool
}

// =============================================================================
// CONNECTION MESSAGES
// =============================================================================

// RoomMessageMsg is a room broadcast (join notices, other users' messages).
type RoomMessageMsg struct {
	Message protocol.RoomMessage
}

// ConversationMsg carries a conversation id announced by the server.
type ConversationMsg struct {
	ID string
}

// ConnectionMsg reports the transport state.
type ConnectionMsg struct {
	State components.Connection
}

// ConfigChangedMsg carries a reloaded config file.
type ConfigChangedMsg struct {
	Config *config.Config
}

// connTickMsg polls the transport state.
type connTickMsg struct{}

// =============================================================================
// COMMAND RESULTS
// =============================================================================

// noticeMsg shows a one-line notice; Err turns it into an error notice.
type noticeMsg struct {
	Text string
	Err  error
}

// submitDoneMsg reports a Submit that failed before the turn started.
type submitDoneMsg struct {
	Err error
}

// joinedMsg reports a completed room switch, with the room's history when
// it was requested.
type joinedMsg struct {
	Room    string
	History *historyMsg
	Err     error
}

// channelsMsg carries the channel list. Next asks for a switch to the
// channel after the current one.
type channelsMsg struct {
	Channels []string
	Next     bool
	Err      error

	created string
}

// systemMsg appends a system entry to the transcript.
type systemMsg struct {
	Text string
}

// historyMsg carries a loaded conversation.
type historyMsg struct {
	Room           string
	ConversationID string
	Messages       []api.HistoryMessage
	Err            error
}
