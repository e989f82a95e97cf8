package assistant

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatkit/core"
	"chatkit/protocol"
)

var testUpgrader = websocket.Upgrader{}

// newWSServer runs handler for each incoming connection and returns the
// ws:// URL to dial.
func newWSServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connect(t *testing.T, url string) *WSClient {
	t.Helper()
	c := NewWSClient(WSConfig{ConnectURL: url, RequestTimeout: 5 * time.Second})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestWSProcessText(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msgType, raw, err := protocol.Unmarshal(data)
		require.NoError(t, err)
		require.Equal(t, protocol.MsgProcessText, msgType)

		req, err := protocol.UnmarshalPayload[protocol.TextRequestPayload](raw)
		require.NoError(t, err)
		assert.Equal(t, "hello", req.Text)
		assert.Equal(t, "en", req.Language)
		assert.Equal(t, "s1", req.SessionID)

		out, _ := protocol.Marshal(protocol.MsgReply, protocol.ReplyPayload{
			RequestID:    req.RequestID,
			ResponseText: "hi",
		})
		conn.WriteMessage(websocket.TextMessage, out)
	})

	c := connect(t, url)
	reply, err := c.ProcessText(context.Background(), "hello", "en", "s1")
	require.NoError(t, err)
	assert.Equal(t, "hi", reply.Text)
}

func TestWSIgnoresUncorrelatedReplies(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_, raw, _ := protocol.Unmarshal(data)
		req, _ := protocol.UnmarshalPayload[protocol.TextRequestPayload](raw)

		// A stray reply for an unknown request must be dropped, not
		// delivered to the waiting caller.
		stray, _ := protocol.Marshal(protocol.MsgReply, protocol.ReplyPayload{
			RequestID:    "someone-else",
			ResponseText: "wrong",
		})
		conn.WriteMessage(websocket.TextMessage, stray)

		out, _ := protocol.Marshal(protocol.MsgReply, protocol.ReplyPayload{
			RequestID:    req.RequestID,
			ResponseText: "right",
		})
		conn.WriteMessage(websocket.TextMessage, out)
	})

	c := connect(t, url)
	reply, err := c.ProcessText(context.Background(), "hello", "en", "s1")
	require.NoError(t, err)
	assert.Equal(t, "right", reply.Text)
}

func TestWSErrorPayloadSurfaced(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_, raw, _ := protocol.Unmarshal(data)
		req, _ := protocol.UnmarshalPayload[protocol.TextRequestPayload](raw)

		out, _ := protocol.Marshal(protocol.MsgError, protocol.ErrorPayload{
			RequestID: req.RequestID,
			Message:   "model overloaded",
		})
		conn.WriteMessage(websocket.TextMessage, out)
	})

	c := connect(t, url)
	_, err := c.ProcessText(context.Background(), "hello", "en", "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestWSProcessAudioEncodesClip(t *testing.T) {
	clipBytes := []byte("wav-bytes")
	url := newWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msgType, raw, _ := protocol.Unmarshal(data)
		require.Equal(t, protocol.MsgProcessAudio, msgType)

		req, err := protocol.UnmarshalPayload[protocol.AudioRequestPayload](raw)
		require.NoError(t, err)
		decoded, err := base64.StdEncoding.DecodeString(req.Audio)
		require.NoError(t, err)
		assert.Equal(t, clipBytes, decoded)
		assert.Equal(t, "audio/wav", req.Mime)
		assert.Equal(t, 16000, req.SampleRate)

		out, _ := protocol.Marshal(protocol.MsgReply, protocol.ReplyPayload{
			RequestID:    req.RequestID,
			ResponseText: "heard you",
		})
		conn.WriteMessage(websocket.TextMessage, out)
	})

	c := connect(t, url)
	reply, err := c.ProcessAudio(context.Background(), core.Clip{
		Data:       clipBytes,
		Mime:       "audio/wav",
		SampleRate: 16000,
	}, "en", "s1")
	require.NoError(t, err)
	assert.Equal(t, "heard you", reply.Text)
}

func TestWSRequestAfterCloseFails(t *testing.T) {
	url := newWSServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	c := connect(t, url)
	c.Close()

	_, err := c.ProcessText(context.Background(), "hello", "en", "s1")
	assert.Error(t, err)
}
