// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session drives one assistant turn at a time over a stream.Channel.
//
// A turn is a MessageSession: it owns the turn id, the accumulated raw text,
// the last rendered markup and the status. Server events routed to the turn
// id move it forward:
//
//	Pending --start--> Streaming --text--> Streaming --end--> AwaitingMetadata --sources--> Complete
//
// Any non-terminal state can fall to Failed on a transport error, a protocol
// violation, an idle timeout or a user cancel. Both terminal states release
// the InputLock and dispose every subscription the turn registered.
//
// # Key Types
//
//   - Coordinator: entry point; validates input and enforces one live turn
//   - MessageSession: per-turn state machine
//   - InputLock: exclusivity gate over the input control
//   - Sink: render surface the turn pushes updates to
//   - Watchdog: idle timer that fails a stalled turn
//
// # Usage
//
//	coord := session.NewCoordinator(channel, sink, session.Config{Room: "general", Sender: "ana"})
//	s, err := coord.Submit(ctx, "hello")
//	if errors.Is(err, session.ErrAlreadyLocked) {
//	    // a turn is already in progress
//	}
//	coord.Wait(ctx, s)
package session
