// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the interactive chat screen for luna.

The screen is a Bubble Tea program. Turns run through a session.Coordinator
whose render sink is a *Sink: every sink call becomes a tea message, so all
transcript state is owned by the event loop.

# Key Components

## Model (model.go)

The Model holds the transcript, the input, the viewport and the chrome
(header, status bar, typing indicator). Collaborators are interfaces:
Turns (the coordinator), Rooms (channel switching) and Library (REST
history, uploads, saved responses).

## Update (update.go, commands.go)

Keys and slash commands. Anything that calls back into the coordinator
runs inside a tea.Cmd, because the sink blocks until the event loop takes
its message.

## Run (run.go)

Run wires the program: attaches the sink, forwards room broadcasts and
new conversation ids, re-announces reconnects and applies config file
changes live.

# Usage

	sink := chat.NewSink()
	coord := session.NewCoordinator(client, sink, cfg)
	model := chat.New(chat.Deps{Turns: coord, Rooms: rooms, Library: lib, Config: c})
	err := chat.Run(ctx, model, chat.RunOptions{Sink: sink, Events: client})

# Keyboard Shortcuts

	Enter      Send
	Esc/C-c    Stop the response (C-c quits when idle)
	C-y        Copy the last response
	C-s        Toggle internet search
	C-t        Toggle dark/light theme
	C-r        Switch to the next channel
	C-l        Clear the screen
	F1         Help
	C-q        Quit
*/
package chat
