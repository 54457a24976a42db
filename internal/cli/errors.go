// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/luna-tui/internal/api"
	"github.com/jeranaias/luna-tui/internal/config"
	"github.com/jeranaias/luna-tui/internal/session"
	"github.com/jeranaias/luna-tui/internal/socketio"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the server could not be reached
	ExitNetworkError = 5
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// UsageError reports bad arguments or flag values.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

func usageErrorf(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// NetworkError reports a server that could not be reached.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("cannot reach %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}

	var verrs config.ValidateErrors
	if errors.As(err, &verrs) {
		return ExitConfigError
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return ExitNetworkError
	}

	var timeout *session.TimeoutError
	if errors.As(err, &timeout) || errors.Is(err, context.DeadlineExceeded) || api.IsTimeout(err) {
		return ExitTimeoutError
	}

	var connErr *socketio.ConnectError
	var transport *session.TransportError
	if errors.As(err, &connErr) || errors.As(err, &transport) || api.IsUnreachable(err) {
		return ExitNetworkError
	}
	return ExitGeneralError
}

// DisplayError prints err in the CLI's error format.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %v\n", ErrorStyle.Render("[ERROR]"), err)
}
