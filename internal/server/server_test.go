// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/luna-tui/internal/protocol"
	"github.com/jeranaias/luna-tui/internal/socketio"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.CloseSockets()
		ts.Close()
	})
	return srv, ts
}

// =============================================================================
// STORE TESTS
// =============================================================================

func TestStore_Channels(t *testing.T) {
	s := NewStore(DefaultChannels)

	assert.True(t, s.AddChannel("  Project Alpha "))
	assert.False(t, s.AddChannel("project alpha"), "normalized duplicate")
	assert.False(t, s.AddChannel("   "))
	assert.Equal(t, []string{"general", "research", "project_alpha"}, s.Channels())
}

func TestStore_Conversations(t *testing.T) {
	s := NewStore(nil)

	id, created := s.Conversation("ana", "general", "")
	require.True(t, created)
	require.NotEmpty(t, id)

	same, created := s.Conversation("ana", "general", id)
	assert.False(t, created)
	assert.Equal(t, id, same)

	s.Append("ana", "general", id, protocol.RoomMessage{Msg: "hi", Sender: "ana"})
	s.EnsureRoom("ana", "research")

	convs := s.Conversations("ana")
	assert.Equal(t, []string{id}, convs["general"])
	assert.Empty(t, convs["research"])

	hist := s.History("ana", "general", id)
	require.Len(t, hist, 1)
	assert.Equal(t, "hi", hist[0].Msg)

	assert.NotNil(t, s.History("bob", "general", id))
	assert.Empty(t, s.History("bob", "general", id))
}

func TestStore_SaveResponse(t *testing.T) {
	s := NewStore(nil)
	s.SaveResponse("ana", "general", "keep this")

	got, ok := s.Saved("ana", "general")
	assert.True(t, ok)
	assert.Equal(t, "keep this", got)

	_, ok = s.Saved("ana", "research")
	assert.False(t, ok)
}

// =============================================================================
// RESPONDER TESTS
// =============================================================================

func TestEchoResponder(t *testing.T) {
	r := EchoResponder(protocol.Turn{Text: "show code", Room: "research", InternetSearch: true})

	joined := strings.Join(r.Chunks, "")
	assert.True(t, strings.HasPrefix(joined, "You asked: show code "))
	assert.Contains(t, joined, "```python\n")
	assert.Contains(t, r.Sources, "docs/research.pdf")
	assert.Len(t, r.Sources, 2)

	plain := EchoResponder(protocol.Turn{Text: "hello"})
	assert.Equal(t, []string{"You ", "asked: ", "hello "}, plain.Chunks)
	assert.Equal(t, []int{1, 2}, plain.Sources["docs/general.pdf"].Pages)
}

// =============================================================================
// REST TESTS
// =============================================================================

func TestHandleHealth(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleConversationsAndHistory(t *testing.T) {
	srv, ts := newTestServer(t, Config{})
	id, _ := srv.Store().Conversation("ana", "general", "")
	srv.Store().Append("ana", "general", id, protocol.RoomMessage{Msg: "hello", Sender: "ana", Timestamp: "2025-01-01 10:00:00"})

	resp, err := http.Get(ts.URL + "/conversations/ana")
	require.NoError(t, err)
	var convs map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&convs))
	resp.Body.Close()
	assert.Equal(t, []string{id}, convs["general"])

	resp, err = http.Get(ts.URL + "/history/ana/general/" + id)
	require.NoError(t, err)
	var hist []protocol.RoomMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	resp.Body.Close()
	require.Len(t, hist, 1)
	assert.Equal(t, "hello", hist[0].Msg)

	resp, err = http.Get(ts.URL + "/history/ana/general/missing")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "[]", strings.TrimSpace(string(raw)))
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHandleUpload(t *testing.T) {
	srv, ts := newTestServer(t, Config{})

	body, ctype := multipartBody(t, map[string]string{"notes.txt": "some notes"})
	resp, err := http.Post(ts.URL+"/upload", ctype, body)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Files uploaded and processed successfully.", string(raw))
	assert.Equal(t, []string{"notes.txt"}, srv.Store().Uploads())
}

func TestHandleUpload_Errors(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Post(ts.URL+"/upload", "text/plain", strings.NewReader("nope"))
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No files part", string(raw))

	body, ctype := multipartBody(t, nil)
	resp, err = http.Post(ts.URL+"/upload", ctype, body)
	require.NoError(t, err)
	raw, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "No selected files", string(raw))
}

func TestHandleSaveResponse(t *testing.T) {
	srv, ts := newTestServer(t, Config{})

	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{"valid", `{"content":"answer","user":"ana","room":"general"}`, http.StatusOK, "Response saved successfully"},
		{"missing room", `{"content":"answer","user":"ana"}`, http.StatusBadRequest, "Invalid data"},
		{"not json", `content=answer`, http.StatusBadRequest, "Invalid data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/save_response", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.msg, body["message"])
		})
	}

	saved, ok := srv.Store().Saved("ana", "general")
	assert.True(t, ok)
	assert.Equal(t, "answer", saved)
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestRateLimit(t *testing.T) {
	_, ts := newTestServer(t, Config{RequestsPerSecond: 0.001})

	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusTooManyRequests, codes[len(codes)-1])
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(recovery(quietLogger()))
	engine.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	big := `{"content":"` + strings.Repeat("x", MaxRequestBodySize+1) + `","user":"a","room":"b"}`
	resp, err := http.Post(ts.URL+"/save_response", "application/json", strings.NewReader(big))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// SOCKET TESTS
// =============================================================================

func TestSocket_RejectsUnknownTransport(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/socket.io/?EIO=3&transport=polling")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// rawSocket speaks frames directly to the server.
type rawSocket struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialRaw(t *testing.T, ts *httptest.Server) *rawSocket {
	t.Helper()
	endpoint, err := socketio.EndpointURL(ts.URL, "")
	require.NoError(t, err)
	ws, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &rawSocket{t: t, ws: ws}
}

func (r *rawSocket) write(frame string) {
	require.NoError(r.t, r.ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// next returns the next packet that is not a ping.
func (r *rawSocket) next() socketio.Packet {
	for {
		_ = r.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := r.ws.ReadMessage()
		require.NoError(r.t, err)
		p, err := socketio.Decode(string(data))
		require.NoError(r.t, err)
		if p.Kind != socketio.KindPing {
			return p
		}
	}
}

func (r *rawSocket) emit(event string, v any) {
	frame, err := socketio.EncodeEvent(event, v)
	require.NoError(r.t, err)
	r.write(frame)
}

func (r *rawSocket) connect() {
	open := r.next()
	require.Equal(r.t, socketio.KindOpen, open.Kind)
	hs, err := socketio.ParseHandshake(open.Data)
	require.NoError(r.t, err)
	require.NotEmpty(r.t, hs.SID)

	r.write(socketio.FrameConnect)
	require.Equal(r.t, socketio.KindConnect, r.next().Kind)
}

func TestSocket_Turn(t *testing.T) {
	srv, ts := newTestServer(t, Config{
		Responder: func(turn protocol.Turn) Reply {
			return Reply{Chunks: []string{"Hello", " world"}, Sources: protocol.Sources{"a.pdf": {Pages: []int{3}}}}
		},
	})
	sock := dialRaw(t, ts)
	sock.connect()

	sock.emit(protocol.EventMessage, protocol.Turn{Text: "hi", Room: "general", Sender: "ana", ID: "msg-1"})

	p := sock.next()
	require.Equal(t, protocol.EventNewConversationID, p.Event)
	var cid string
	require.NoError(t, json.Unmarshal(p.Data, &cid))

	// Echo of the user message and the assistant placeholder.
	assert.Equal(t, protocol.EventMessage, sock.next().Event)
	assert.Equal(t, protocol.EventMessage, sock.next().Event)

	var chunks []string
	for {
		p := sock.next()
		if p.Event == protocol.SourcesEvent("msg-1") {
			var payload protocol.SourcesPayload
			require.NoError(t, json.Unmarshal(p.Data, &payload))
			assert.Equal(t, []int{3}, payload.Sources["a.pdf"].Pages)
			break
		}
		require.Equal(t, protocol.ChunkEvent("msg-1"), p.Event)
		var c protocol.Chunk
		require.NoError(t, json.Unmarshal(p.Data, &c))
		chunks = append(chunks, c.Chunk)
	}
	assert.Equal(t, []string{protocol.MarkerStart, "Hello", " world", protocol.MarkerEnd}, chunks)

	require.Eventually(t, func() bool {
		return len(srv.Store().History("ana", "general", cid)) == 2
	}, time.Second, 10*time.Millisecond)
	hist := srv.Store().History("ana", "general", cid)
	assert.Equal(t, "hi", hist[0].Msg)
	assert.Equal(t, "Hello world", hist[1].Msg)
	assert.Equal(t, AssistantName, hist[1].Sender)
}

func TestSocket_Rooms(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	sock := dialRaw(t, ts)
	sock.connect()

	sock.emit(protocol.EventJoin, protocol.JoinRequest{Username: "ana", Room: "general"})
	notice := sock.next()
	require.Equal(t, protocol.EventMessage, notice.Event)
	var msg protocol.RoomMessage
	require.NoError(t, json.Unmarshal(notice.Data, &msg))
	assert.Equal(t, "ana has entered the room.", msg.Msg)
	assert.Equal(t, SystemName, msg.Sender)

	joined := sock.next()
	assert.Equal(t, protocol.EventJoinedRoom, joined.Event)

	sock.emit(protocol.EventCreateChannel, protocol.CreateChannelRequest{NewChannelName: "Side Project"})
	p := sock.next()
	require.Equal(t, protocol.EventChannels, p.Event)
	var channels []string
	require.NoError(t, json.Unmarshal(p.Data, &channels))
	assert.Contains(t, channels, "side_project")

	sock.emit(protocol.EventGetChannels, protocol.ChannelsRequest{Username: "ana"})
	p = sock.next()
	require.Equal(t, protocol.EventChannels, p.Event)
}

func TestSocket_RoomBroadcast(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	a := dialRaw(t, ts)
	a.connect()
	b := dialRaw(t, ts)
	b.connect()

	a.emit(protocol.EventJoin, protocol.JoinRequest{Username: "ana", Room: "general"})
	a.next()
	a.next()

	b.emit(protocol.EventJoin, protocol.JoinRequest{Username: "bo", Room: "general"})

	p := a.next()
	require.Equal(t, protocol.EventMessage, p.Event)
	var msg protocol.RoomMessage
	require.NoError(t, json.Unmarshal(p.Data, &msg))
	assert.Equal(t, "bo has entered the room.", msg.Msg)
}
