package playback

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"chatkit/chat"
	"chatkit/core"
)

// ErrNoAudio is returned when a play request carries no payload.
var ErrNoAudio = errors.New("playback: message has no audio payload")

// Player turns decoded audio bytes into a live playback on some output
// device. Implementations are provided by the embedding application.
type Player interface {
	Play(data []byte, mime string) (Handle, error)
}

// Handle is one live playback. Stop halts it and rewinds the position to
// zero; a stopped handle is never resumed.
type Handle interface {
	Stop()
}

// Coordinator enforces the single-active-clip rule: at most one clip plays
// at any time across the whole application. Starting a new clip stops and
// releases the previous handle first. It also owns the auto-play bookkeeping
// so a voice reply plays exactly once no matter how often it is re-rendered.
type Coordinator struct {
	player Player
	logger *core.Logger

	mu      sync.Mutex
	current Handle
	played  map[string]struct{} // message ids already auto-played
}

// NewCoordinator creates a coordinator over the given output player.
func NewCoordinator(player Player, logger *core.Logger) *Coordinator {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Coordinator{
		player: player,
		logger: logger.With(map[string]interface{}{"component": "playback"}),
		played: make(map[string]struct{}),
	}
}

// Play decodes the base64 payload and starts it on the output device,
// stopping and replacing whatever was playing before.
func (c *Coordinator) Play(audioB64, mime string) error {
	if audioB64 == "" || mime == "" {
		return ErrNoAudio
	}

	data, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		return fmt.Errorf("playback: decode audio payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Stop()
		c.current = nil
	}

	handle, err := c.player.Play(data, mime)
	if err != nil {
		return fmt.Errorf("playback: start clip: %w", err)
	}
	c.current = handle
	return nil
}

// AutoPlay plays a reply's audio once per message id and reports whether a
// playback started. Re-renders of the same message are no-ops, as are
// messages without the auto-play hint or without audio.
func (c *Coordinator) AutoPlay(msg chat.Message) bool {
	if !msg.AutoPlay || msg.Audio == "" || msg.Mime == "" {
		return false
	}

	c.mu.Lock()
	if _, done := c.played[msg.ID]; done {
		c.mu.Unlock()
		return false
	}
	c.played[msg.ID] = struct{}{}
	c.mu.Unlock()

	if err := c.Play(msg.Audio, msg.Mime); err != nil {
		c.logger.With(map[string]interface{}{
			"message_id": msg.ID,
			"error":      err,
		}).Warn("auto-play failed")
		return false
	}
	return true
}

// NullPlayer discards audio. Useful when the application runs without an
// output device.
type NullPlayer struct{}

func (NullPlayer) Play(data []byte, mime string) (Handle, error) {
	return nullHandle{}, nil
}

type nullHandle struct{}

func (nullHandle) Stop() {}
