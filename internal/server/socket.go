// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/socketio"
)

// ============================================================================
// SOCKET CONNECTION
// ============================================================================

// socketConn is one Socket.IO client.
type socketConn struct {
	ws  *websocket.Conn
	sid string
	log logrus.FieldLogger

	writeMu sync.Mutex

	mu   sync.Mutex
	user string
	room string

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func (sc *socketConn) setRoom(user, room string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.user = user
	sc.room = room
}

func (sc *socketConn) currentRoom() string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.room
}

func (sc *socketConn) writeFrame(frame string) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return sc.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (sc *socketConn) emit(event string, v any) {
	frame, err := socketio.EncodeEvent(event, v)
	if err != nil {
		sc.log.WithField("event", "SOCKET_ENCODE_FAILED").WithError(err).Warn("dropping event")
		return
	}
	if err := sc.writeFrame(frame); err != nil {
		sc.log.WithFields(logrus.Fields{
			"event": "SOCKET_WRITE_FAILED",
			"name":  event,
		}).WithError(err).Debug("write failed")
	}
}

func (sc *socketConn) close() {
	sc.closeOnce.Do(func() {
		close(sc.done)
		sc.ws.Close()
	})
}

// ============================================================================
// HANDSHAKE AND READ LOOP
// ============================================================================

func (s *Server) handleSocket(c *gin.Context) {
	if c.Query("EIO") != "4" || c.Query("transport") != "websocket" {
		c.JSON(http.StatusBadRequest, gin.H{"code": 0, "message": "Transport unknown"})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithField("event", "SOCKET_UPGRADE_FAILED").WithError(err).Warn("upgrade failed")
		return
	}

	sc := &socketConn{
		ws:   ws,
		sid:  uuid.NewString(),
		done: make(chan struct{}),
	}
	sc.log = s.log.WithField("sid", sc.sid)

	s.mu.Lock()
	s.conns[sc] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		sc.close()
		sc.wg.Wait()
		s.mu.Lock()
		delete(s.conns, sc)
		s.mu.Unlock()
		s.wg.Done()
		sc.log.WithField("event", "SOCKET_CLOSED").Debug("client gone")
	}()

	if err := s.serveSocket(sc); err != nil && !errors.Is(err, errClientDisconnect) {
		sc.log.WithField("event", "SOCKET_ERROR").WithError(err).Debug("connection ended")
	}
}

var errClientDisconnect = errors.New("client disconnected")

func (s *Server) serveSocket(sc *socketConn) error {
	open, err := socketio.EncodeOpen(socketio.Handshake{
		SID:          sc.sid,
		PingInterval: s.cfg.PingInterval,
		PingTimeout:  s.cfg.PingTimeout,
		MaxPayload:   MaxRequestBodySize,
	})
	if err != nil {
		return err
	}
	if err := sc.writeFrame(open); err != nil {
		return err
	}

	window := s.cfg.PingInterval + s.cfg.PingTimeout
	_ = sc.ws.SetReadDeadline(time.Now().Add(window))

	// Namespace connect
	p, err := readFrame(sc.ws)
	if err != nil {
		return err
	}
	if p.Kind != socketio.KindConnect {
		return fmt.Errorf("expected namespace connect, got kind %d", p.Kind)
	}
	ack, err := socketio.EncodeConnectAck(uuid.NewString())
	if err != nil {
		return err
	}
	if err := sc.writeFrame(ack); err != nil {
		return err
	}
	sc.log.WithField("event", "SOCKET_CONNECTED").Info("client connected")

	sc.wg.Add(1)
	go s.pinger(sc)

	for {
		_ = sc.ws.SetReadDeadline(time.Now().Add(window))
		p, err := readFrame(sc.ws)
		if err != nil {
			if errors.Is(err, socketio.ErrMalformed) {
				continue
			}
			return err
		}
		switch p.Kind {
		case socketio.KindEvent:
			s.handleEvent(sc, p.Event, p.Data)
		case socketio.KindPing:
			_ = sc.writeFrame(socketio.FramePong)
		case socketio.KindDisconnect, socketio.KindClose:
			return errClientDisconnect
		}
	}
}

func readFrame(ws *websocket.Conn) (socketio.Packet, error) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return socketio.Packet{}, err
	}
	return socketio.Decode(string(data))
}

func (s *Server) pinger(sc *socketConn) {
	defer sc.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sc.done:
			return
		case <-ticker.C:
			if err := sc.writeFrame(socketio.FramePing); err != nil {
				return
			}
		}
	}
}

// ============================================================================
// EVENTS
// ============================================================================

func (s *Server) handleEvent(sc *socketConn, event string, data json.RawMessage) {
	log := sc.log.WithField("name", event)

	switch event {
	case protocol.EventJoin:
		var req protocol.JoinRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.WithError(err).Warn("bad join payload")
			return
		}
		sc.setRoom(req.Username, req.Room)
		s.store.EnsureRoom(req.Username, req.Room)
		s.toRoom(req.Room, sc, protocol.EventMessage, systemMessage(req.Username+" has entered the room."))
		sc.emit(protocol.EventJoinedRoom, protocol.JoinedRoom{Username: req.Username, Room: req.Room})

	case protocol.EventLeave:
		var req protocol.JoinRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.WithError(err).Warn("bad leave payload")
			return
		}
		s.toRoom(req.Room, sc, protocol.EventMessage, systemMessage(req.Username+" has left the room."))
		sc.setRoom(req.Username, "")

	case protocol.EventGetChannels:
		sc.emit(protocol.EventChannels, s.store.Channels())

	case protocol.EventCreateChannel:
		var req protocol.CreateChannelRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.WithError(err).Warn("bad create_channel payload")
			return
		}
		if s.store.AddChannel(req.NewChannelName) {
			s.broadcast(protocol.EventChannels, s.store.Channels())
		}

	case protocol.EventMessage:
		var turn protocol.Turn
		if err := json.Unmarshal(data, &turn); err != nil {
			log.WithError(err).Warn("bad message payload")
			return
		}
		s.handleTurn(sc, turn)

	default:
		log.WithField("event", "SOCKET_UNKNOWN_EVENT").Debug("ignoring event")
	}
}

func (s *Server) handleTurn(sc *socketConn, turn protocol.Turn) {
	cid, created := s.store.Conversation(turn.Sender, turn.Room, turn.ConversationID)
	if created {
		sc.emit(protocol.EventNewConversationID, cid)
	}

	msg := protocol.RoomMessage{Msg: turn.Text, Sender: turn.Sender, Timestamp: timestamp(), MessageID: turn.ID}
	s.store.Append(turn.Sender, turn.Room, cid, msg)
	s.toRoom(turn.Room, sc, protocol.EventMessage, msg)
	s.toRoom(turn.Room, sc, protocol.EventMessage, protocol.RoomMessage{Sender: AssistantName, Timestamp: timestamp()})

	sc.log.WithFields(logrus.Fields{
		"event":      "TURN_RECEIVED",
		"session_id": turn.ID,
		"room":       turn.Room,
		"search":     turn.InternetSearch,
	}).Info("streaming reply")

	reply := s.cfg.Responder(turn)
	sc.wg.Add(1)
	go s.streamReply(sc, turn, cid, reply)
}

// streamReply plays a Reply for one turn. It stops early if the connection
// goes away.
func (s *Server) streamReply(sc *socketConn, turn protocol.Turn, cid string, reply Reply) {
	defer sc.wg.Done()

	emit := func(event string, v any) {
		s.toRoom(turn.Room, sc, event, v)
	}
	wait := func() bool {
		if s.cfg.ChunkDelay <= 0 {
			select {
			case <-sc.done:
				return false
			default:
				return true
			}
		}
		select {
		case <-sc.done:
			return false
		case <-time.After(s.cfg.ChunkDelay):
			return true
		}
	}

	chunkEvent := protocol.ChunkEvent(turn.ID)
	if !reply.SkipStart {
		emit(chunkEvent, protocol.Chunk{Chunk: protocol.MarkerStart})
	}

	var text strings.Builder
	for _, chunk := range reply.Chunks {
		if !wait() {
			return
		}
		emit(chunkEvent, protocol.Chunk{Chunk: chunk})
		text.WriteString(chunk)
	}

	if reply.Disconnect {
		sc.close()
		return
	}
	if reply.SkipEnd {
		return
	}

	emit(chunkEvent, protocol.Chunk{Chunk: protocol.MarkerEnd})
	sources := reply.Sources
	if sources == nil {
		sources = protocol.Sources{}
	}
	emit(protocol.SourcesEvent(turn.ID), protocol.SourcesPayload{Sources: sources})

	s.store.Append(turn.Sender, turn.Room, cid, protocol.RoomMessage{
		Msg:       text.String(),
		Sender:    AssistantName,
		Timestamp: timestamp(),
	})
}

// toRoom emits to every connection in room, plus origin when it has not
// joined the room.
func (s *Server) toRoom(room string, origin *socketConn, event string, v any) {
	s.mu.Lock()
	targets := make([]*socketConn, 0, len(s.conns))
	for sc := range s.conns {
		if sc == origin || (room != "" && sc.currentRoom() == room) {
			targets = append(targets, sc)
		}
	}
	s.mu.Unlock()

	for _, sc := range targets {
		sc.emit(event, v)
	}
}

// broadcast emits to every connection.
func (s *Server) broadcast(event string, v any) {
	s.mu.Lock()
	targets := make([]*socketConn, 0, len(s.conns))
	for sc := range s.conns {
		targets = append(targets, sc)
	}
	s.mu.Unlock()

	for _, sc := range targets {
		sc.emit(event, v)
	}
}
