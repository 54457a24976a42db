// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the luna command line.
//
// The root command opens the full-screen chat when both stdin and stdout
// are terminals and falls back to the line chat otherwise. Subcommands
// cover one-shot use:
//
//	luna ask "question"          stream one reply
//	luna chat                    line chat with history
//	luna conversations | history list and print conversations
//	luna export [room]           write a conversation to md, html or json
//	luna upload <file>...        upload documents
//	luna save [text]             save a response
//	luna channels [create name]  list or create channels
//	luna config show|path|init|get|set
//	luna mock-server             local echo server
//
// Every command resolves configuration the same way: config file, then
// LUNA_* environment variables, then flags. Errors are printed once by
// Execute and mapped to an exit code by ExitCode.
package cli
