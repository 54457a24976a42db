// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

// Status is the lifecycle state of a MessageSession.
type Status int

const (
	// Pending is the initial state, before the start marker.
	Pending Status = iota
	// Streaming accepts text chunks.
	Streaming
	// AwaitingMetadata follows the end marker; text is frozen.
	AwaitingMetadata
	// Complete is terminal: metadata received.
	Complete
	// Failed is terminal: transport error, violation, timeout or cancel.
	Failed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Streaming:
		return "streaming"
	case AwaitingMetadata:
		return "awaiting_metadata"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Complete || s == Failed
}

// canAdvance reports whether from -> to is a legal transition.
func canAdvance(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	return to == from+1
}
