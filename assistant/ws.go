package assistant

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatkit/core"
	"chatkit/protocol"
)

const (
	defaultRequestTimeout = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// ErrClosed is returned for requests made after the connection is gone.
var ErrClosed = errors.New("assistant: websocket connection closed")

// WSConfig configures the WebSocket assistant client.
type WSConfig struct {
	// ConnectURL is the assistant's WebSocket endpoint, e.g. ws://host/ws/chat.
	ConnectURL string
	// RequestTimeout bounds one request/response exchange.
	RequestTimeout time.Duration
	Logger         *core.Logger
}

// WSClient speaks the envelope protocol over a single outbound WebSocket
// connection. Requests carry correlation ids so replies arriving in any
// order find their waiting caller.
type WSClient struct {
	config WSConfig
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger *core.Logger

	writeMu sync.Mutex // protects writes to conn

	pendingMu sync.Mutex
	pending   map[string]chan wsResult

	done chan struct{}
	once sync.Once
}

type wsResult struct {
	reply *Reply
	err   error
}

// NewWSClient creates a new WebSocket assistant client.
func NewWSClient(cfg WSConfig) *WSClient {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = core.GetLogger()
	}
	return &WSClient{
		config:  cfg,
		logger:  cfg.Logger.With(map[string]interface{}{"component": "assistant.ws"}),
		pending: make(map[string]chan wsResult),
		done:    make(chan struct{}),
	}
}

// Connect dials the assistant endpoint and starts the read loop. The provided
// context controls the client's lifetime; cancelling it closes the connection.
func (c *WSClient) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.logger.With(map[string]interface{}{"url": c.config.ConnectURL}).Info("connecting to assistant")

	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.config.ConnectURL, nil)
	if err != nil {
		c.cancel()
		return fmt.Errorf("assistant: dial %q: %w", c.config.ConnectURL, err)
	}
	c.conn = conn

	go c.readLoop()
	return nil
}

// ProcessText submits one typed turn over the socket.
func (c *WSClient) ProcessText(ctx context.Context, text, language, sessionID string) (*Reply, error) {
	requestID := uuid.New().String()
	payload := protocol.TextRequestPayload{
		RequestID: requestID,
		Text:      text,
		Language:  language,
		SessionID: sessionID,
	}
	return c.request(ctx, protocol.MsgProcessText, requestID, payload)
}

// ProcessAudio submits one voice turn, clip bytes base64-encoded.
func (c *WSClient) ProcessAudio(ctx context.Context, clip core.Clip, language, sessionID string) (*Reply, error) {
	requestID := uuid.New().String()
	payload := protocol.AudioRequestPayload{
		RequestID:  requestID,
		Audio:      base64.StdEncoding.EncodeToString(clip.Data),
		Mime:       clip.Mime,
		Language:   language,
		SessionID:  sessionID,
		SampleRate: clip.SampleRate,
	}
	return c.request(ctx, protocol.MsgProcessAudio, requestID, payload)
}

// request writes one envelope and waits for its correlated reply.
func (c *WSClient) request(ctx context.Context, msgType protocol.MessageType, requestID string, payload interface{}) (*Reply, error) {
	if c.conn == nil {
		return nil, ErrClosed
	}

	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan wsResult, 1)
	c.pendingMu.Lock()
	c.pending[requestID] = resultCh
	c.pendingMu.Unlock()
	defer c.forget(requestID)

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("assistant: write %s: %w", msgType, err)
	}

	select {
	case res := <-resultCh:
		return res.reply, res.err
	case <-time.After(c.config.RequestTimeout):
		return nil, fmt.Errorf("assistant: %s timed out after %s", msgType, c.config.RequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// readLoop dispatches incoming envelopes to their waiting requests until the
// connection drops.
func (c *WSClient) readLoop() {
	defer c.shutdown()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.With(map[string]interface{}{"error": err}).Warn("read loop ended")
			return
		}

		msgType, raw, err := protocol.Unmarshal(data)
		if err != nil {
			c.logger.With(map[string]interface{}{"error": err}).Warn("dropping malformed envelope")
			continue
		}

		switch msgType {
		case protocol.MsgReply:
			payload, err := protocol.UnmarshalPayload[protocol.ReplyPayload](raw)
			if err != nil {
				c.logger.With(map[string]interface{}{"error": err}).Warn("dropping malformed reply")
				continue
			}
			c.resolve(payload.RequestID, wsResult{reply: &Reply{
				Text:  payload.ResponseText,
				Audio: payload.AudioResponse,
				Mime:  payload.AudioMime,
			}})
		case protocol.MsgError:
			payload, err := protocol.UnmarshalPayload[protocol.ErrorPayload](raw)
			if err != nil {
				c.logger.With(map[string]interface{}{"error": err}).Warn("dropping malformed error")
				continue
			}
			c.resolve(payload.RequestID, wsResult{err: fmt.Errorf("assistant: %s", payload.Message)})
		default:
			c.logger.With(map[string]interface{}{"type": string(msgType)}).Debug("ignoring unexpected message type")
		}
	}
}

// resolve delivers a result to the request waiting on requestID, if any.
func (c *WSClient) resolve(requestID string, res wsResult) {
	c.pendingMu.Lock()
	ch, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- res
	}
}

func (c *WSClient) forget(requestID string) {
	c.pendingMu.Lock()
	delete(c.pending, requestID)
	c.pendingMu.Unlock()
}

// Close tears down the connection and fails any in-flight requests.
func (c *WSClient) Close() error {
	c.shutdown()
	return nil
}

func (c *WSClient) shutdown() {
	c.once.Do(func() {
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
