// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package socketio implements the client side of the Socket.IO v4 protocol
// over a WebSocket transport, enough to talk to the Luna chat server.
//
// Frames are Engine.IO v4 text packets. The first character is the Engine.IO
// packet type; a message packet (4) carries a Socket.IO packet whose first
// character is the Socket.IO type:
//
//	0{"sid":...}      open handshake
//	2 / 3             ping / pong
//	40                namespace connect (ack carries {"sid":...})
//	42["event",data]  event
//	41                namespace disconnect
//	44{"message":...} connect error
//
// Only the default namespace and the websocket transport are supported.
package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// =============================================================================
// PACKET TYPES
// =============================================================================

// Engine.IO packet types.
const (
	EngineOpen    byte = '0'
	EngineClose   byte = '1'
	EnginePing    byte = '2'
	EnginePong    byte = '3'
	EngineMessage byte = '4'
	EngineUpgrade byte = '5'
	EngineNoop    byte = '6'
)

// Socket.IO packet types.
const (
	SocketConnect      byte = '0'
	SocketDisconnect   byte = '1'
	SocketEvent        byte = '2'
	SocketAck          byte = '3'
	SocketConnectError byte = '4'
)

// Kind classifies a decoded frame.
type Kind int

const (
	KindOpen Kind = iota
	KindClose
	KindPing
	KindPong
	KindNoop
	KindConnect
	KindDisconnect
	KindEvent
	KindAck
	KindConnectError
)

// Frames written verbatim.
const (
	FramePing       = "2"
	FramePong       = "3"
	FrameConnect    = "40"
	FrameDisconnect = "41"
)

// ErrMalformed is returned for frames that cannot be decoded.
var ErrMalformed = errors.New("socketio: malformed frame")

// =============================================================================
// PACKETS
// =============================================================================

// Packet is a decoded frame.
type Packet struct {
	Kind  Kind
	Event string
	Data  json.RawMessage
}

// Handshake is the payload of the open packet.
type Handshake struct {
	SID          string
	Upgrades     []string
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int64
}

// Decode parses one text frame.
func Decode(frame string) (Packet, error) {
	if frame == "" {
		return Packet{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	switch frame[0] {
	case EngineOpen:
		if !gjson.Valid(frame[1:]) {
			return Packet{}, fmt.Errorf("%w: open payload", ErrMalformed)
		}
		return Packet{Kind: KindOpen, Data: json.RawMessage(frame[1:])}, nil
	case EngineClose:
		return Packet{Kind: KindClose}, nil
	case EnginePing:
		return Packet{Kind: KindPing, Data: rawOrNil(frame[1:])}, nil
	case EnginePong:
		return Packet{Kind: KindPong, Data: rawOrNil(frame[1:])}, nil
	case EngineNoop, EngineUpgrade:
		return Packet{Kind: KindNoop}, nil
	case EngineMessage:
		return decodeSocket(frame[1:])
	default:
		return Packet{}, fmt.Errorf("%w: unknown engine type %q", ErrMalformed, frame[0])
	}
}

func decodeSocket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, fmt.Errorf("%w: empty socket packet", ErrMalformed)
	}
	typ, body := s[0], stripNamespace(s[1:])

	switch typ {
	case SocketConnect:
		return Packet{Kind: KindConnect, Data: rawOrNil(body)}, nil
	case SocketDisconnect:
		return Packet{Kind: KindDisconnect}, nil
	case SocketConnectError:
		return Packet{Kind: KindConnectError, Data: rawOrNil(body)}, nil
	case SocketEvent, SocketAck:
		body = strings.TrimLeft(body, "0123456789")
		if !gjson.Valid(body) {
			return Packet{}, fmt.Errorf("%w: event payload", ErrMalformed)
		}
		arr := gjson.Parse(body)
		if !arr.IsArray() {
			return Packet{}, fmt.Errorf("%w: event payload is not an array", ErrMalformed)
		}
		if typ == SocketAck {
			return Packet{Kind: KindAck, Data: json.RawMessage(body)}, nil
		}
		items := arr.Array()
		if len(items) == 0 || items[0].Type != gjson.String {
			return Packet{}, fmt.Errorf("%w: missing event name", ErrMalformed)
		}
		p := Packet{Kind: KindEvent, Event: items[0].String()}
		if len(items) > 1 {
			p.Data = json.RawMessage(items[1].Raw)
		}
		return p, nil
	default:
		return Packet{}, fmt.Errorf("%w: unknown socket type %q", ErrMalformed, typ)
	}
}

// stripNamespace drops a "/nsp," prefix.
func stripNamespace(s string) string {
	if !strings.HasPrefix(s, "/") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return ""
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

// ParseHandshake reads the open packet payload.
func ParseHandshake(data json.RawMessage) (Handshake, error) {
	r := gjson.ParseBytes(data)
	sid := r.Get("sid")
	if !sid.Exists() || sid.String() == "" {
		return Handshake{}, fmt.Errorf("%w: handshake without sid", ErrMalformed)
	}
	h := Handshake{
		SID:          sid.String(),
		PingInterval: time.Duration(r.Get("pingInterval").Int()) * time.Millisecond,
		PingTimeout:  time.Duration(r.Get("pingTimeout").Int()) * time.Millisecond,
		MaxPayload:   r.Get("maxPayload").Int(),
	}
	for _, u := range r.Get("upgrades").Array() {
		h.Upgrades = append(h.Upgrades, u.String())
	}
	return h, nil
}

// ConnectErrorMessage extracts the message of a connect error packet.
func ConnectErrorMessage(data json.RawMessage) string {
	if len(data) == 0 {
		return "connection refused"
	}
	r := gjson.ParseBytes(data)
	if msg := r.Get("message"); msg.Exists() {
		return msg.String()
	}
	return r.String()
}

// =============================================================================
// ENCODING
// =============================================================================

// EncodeEvent builds a 42["event",data] frame. A nil v sends the event
// without data.
func EncodeEvent(event string, v any) (string, error) {
	arr, err := sjson.Set("[]", "-1", event)
	if err != nil {
		return "", fmt.Errorf("encode event name: %w", err)
	}
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode %s payload: %w", event, err)
		}
		arr, err = sjson.SetRaw(arr, "-1", string(raw))
		if err != nil {
			return "", fmt.Errorf("encode %s payload: %w", event, err)
		}
	}
	return string([]byte{EngineMessage, SocketEvent}) + arr, nil
}

// EncodeOpen builds the open packet a server sends first.
func EncodeOpen(h Handshake) (string, error) {
	out := "{}"
	var err error
	set := func(path string, v any) {
		if err == nil {
			out, err = sjson.Set(out, path, v)
		}
	}
	set("sid", h.SID)
	upgrades := h.Upgrades
	if upgrades == nil {
		upgrades = []string{}
	}
	set("upgrades", upgrades)
	set("pingInterval", h.PingInterval.Milliseconds())
	set("pingTimeout", h.PingTimeout.Milliseconds())
	set("maxPayload", h.MaxPayload)
	if err != nil {
		return "", err
	}
	return string(EngineOpen) + out, nil
}

// EncodeConnectAck builds the namespace connect acknowledgement.
func EncodeConnectAck(sid string) (string, error) {
	out, err := sjson.Set("{}", "sid", sid)
	if err != nil {
		return "", err
	}
	return FrameConnect + out, nil
}

// EncodeConnectError builds a namespace connect error.
func EncodeConnectError(message string) (string, error) {
	out, err := sjson.Set("{}", "message", message)
	if err != nil {
		return "", err
	}
	return string([]byte{EngineMessage, SocketConnectError}) + out, nil
}
