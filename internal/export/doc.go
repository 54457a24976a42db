// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a room conversation to a file.
//
// # Supported Formats
//
//   - Markdown: the raw turn text under per-sender headings
//   - HTML: a standalone page; assistant replies go through the sanitizing
//     formatter so code blocks render the way the chat shows them
//   - JSON: the conversation as fetched from the server
//
// # Usage
//
//	conv := &export.Conversation{User: "ana", Room: "general", ID: id, Messages: msgs}
//	exporter, err := export.ForFormat("md", nil)
//	path, err := export.ExportToFile(conv, exporter, nil)
package export
