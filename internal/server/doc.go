// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides a mock Luna chat server for demos and tests.
//
// Endpoints:
//   - GET  /socket.io/                                Socket.IO v4 (websocket transport)
//   - GET  /conversations/:user                       room -> conversation ids
//   - GET  /history/:user/:room/:conversation         conversation messages
//   - POST /upload                                    multipart "files"
//   - POST /save_response                             {content, user, room}
//   - GET  /health                                    health check
//
// Turns are answered by a Responder; history lives in memory only.
//
// # Usage
//
//	srv := server.New(server.Config{Addr: "127.0.0.1:5000"})
//	go srv.Start()
//	defer srv.Shutdown(ctx)
//
// In tests, mount the handler on an httptest server:
//
//	ts := httptest.NewServer(server.New(server.Config{}).Handler())
//
// Responses are scripted per turn with a Responder; Reply can omit markers
// or drop the connection to exercise client error paths.
package server
