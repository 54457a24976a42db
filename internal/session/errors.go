// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// Sentinel errors for easy checking.
var (
	// ErrAlreadyLocked is returned when a turn is already in progress.
	ErrAlreadyLocked = errors.New("a response is still in progress")

	// ErrCancelled fails a turn abandoned by the user.
	ErrCancelled = errors.New("response cancelled")

	// ErrNoActiveSession is returned by Cancel when nothing is in progress.
	ErrNoActiveSession = errors.New("no response in progress")
)

// TransportError is a send, subscribe or connection failure for a turn.
type TransportError struct {
	SessionID string
	Op        string
	Message   string
	Cause     error
}

func (e *TransportError) Error() string {
	msg := "transport error"
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ProtocolViolationError reports an event that arrived out of order or
// could not be decoded.
type ProtocolViolationError struct {
	SessionID string
	Status    Status
	Event     string
	Cause     error
}

func (e *ProtocolViolationError) Error() string {
	msg := fmt.Sprintf("protocol violation: unexpected %s while %s", e.Event, e.Status)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProtocolViolationError) Unwrap() error {
	return e.Cause
}

// TimeoutError fails a turn that saw no server activity for too long.
type TimeoutError struct {
	SessionID string
	Idle      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response from server for %s", e.Idle.Round(time.Second))
}
