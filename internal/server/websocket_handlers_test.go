package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/vidtally/internal/pipeline"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialHub starts the routes on a real listener and connects one client.
func dialHub(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()
	srv, mux := newTestServer(t, &fakeController{})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return srv.Hub().Clients() == 1 },
		2*time.Second, 10*time.Millisecond)
	return srv, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg.Type, msg.Payload
}

func TestHub_BroadcastsPresenterEvents(t *testing.T) {
	srv, conn := dialHub(t)
	hub := srv.Hub()

	hub.OnStatus("Loaded: clip.mp4")
	hub.OnFrameDisplayed(pipeline.FrameInfo{Index: 15, TotalFrames: 300, TimeLabel: "0:00:00 / 0:00:10"})
	hub.OnExtractionResult(&pipeline.ExtractionResult{FrameIndex: 15, Saved: true})

	typ, payload := readMessage(t, conn)
	assert.Equal(t, MessageStatus, typ)
	assert.JSONEq(t, `"Loaded: clip.mp4"`, string(payload))

	typ, payload = readMessage(t, conn)
	assert.Equal(t, MessageFrame, typ)
	var frame pipeline.FrameInfo
	require.NoError(t, json.Unmarshal(payload, &frame))
	assert.Equal(t, 15, frame.Index)
	assert.Equal(t, "0:00:00 / 0:00:10", frame.TimeLabel)

	typ, payload = readMessage(t, conn)
	assert.Equal(t, MessageResult, typ)
	var result pipeline.ExtractionResult
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Equal(t, 15, result.FrameIndex)
	assert.True(t, result.Saved)
}

func TestHub_ClientDisconnect(t *testing.T) {
	srv, conn := dialHub(t)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return srv.Hub().Clients() == 0 },
		2*time.Second, 10*time.Millisecond)

	// Broadcasting with nobody listening is a no-op.
	srv.Hub().OnStatus("nobody home")
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	srv, conn := dialHub(t)

	require.NoError(t, srv.Close())
	assert.Equal(t, 0, srv.Hub().Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived) ||
		websocket.IsUnexpectedCloseError(err), "got %v", err)
}

func TestHub_RejectsAfterClose(t *testing.T) {
	hub := NewHub(nil)
	hub.Close()

	c := &wsClient{send: make(chan []byte, 1)}
	assert.False(t, hub.register(c))
	assert.Equal(t, 0, hub.Clients())
}

func TestHub_DropsWhenClientBufferFull(t *testing.T) {
	hub := NewHub(nil)
	c := &wsClient{send: make(chan []byte, 1)}
	require.True(t, hub.register(c))

	hub.OnStatus("first")
	hub.OnStatus("second")

	assert.Len(t, c.send, 1)
	var msg WebSocketMessage
	require.NoError(t, json.Unmarshal(<-c.send, &msg))
	assert.Equal(t, "first", msg.Payload)

	hub.unregister(c)
	hub.unregister(c)
	_, open := <-c.send
	assert.False(t, open)
}

func TestWebSocketUpgrader(t *testing.T) {
	for _, origin := range []string{"http://example.com", "https://another-domain.com"} {
		assert.True(t, upgrader.CheckOrigin(&http.Request{Header: http.Header{"Origin": []string{origin}}}))
	}
	assert.Equal(t, 1024, upgrader.ReadBufferSize)
	assert.Equal(t, 1024, upgrader.WriteBufferSize)
}
