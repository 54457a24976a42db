// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the REST client for the Luna chat server.
//
// Streaming chat goes over Socket.IO (see package socketio); this package
// covers the plain HTTP routes:
//
//	GET  /conversations/{user}                room -> conversation ids
//	GET  /history/{user}/{room}/{id}          messages of one conversation
//	POST /upload                              multipart "files"
//	POST /save_response                       {content, user, room}
package api

import "github.com/jeranaias/luna-tui/internal/protocol"

// HistoryMessage is one stored message of a conversation.
type HistoryMessage = protocol.RoomMessage

// SaveRequest is the body of POST /save_response.
type SaveRequest struct {
	Content string `json:"content"`
	User    string `json:"user"`
	Room    string `json:"room"`
}

// MessageReply is the JSON reply of save_response.
type MessageReply struct {
	Message string `json:"message"`
}
