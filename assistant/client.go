// Package assistant reaches the remote assistant collaborator through two
// request/response operations, one for typed turns and one for voice turns.
// Transports are interchangeable behind the Client interface; none of them
// retries, streams, or delivers partial replies.
package assistant

import (
	"context"

	"chatkit/core"
)

// Reply is the assistant's answer to either operation. Audio is optional and
// base64-encoded with its MIME type alongside.
type Reply struct {
	Text  string
	Audio string
	Mime  string
}

// Client is the remote assistant collaborator.
type Client interface {
	// ProcessText submits one typed turn.
	ProcessText(ctx context.Context, text, language, sessionID string) (*Reply, error)
	// ProcessAudio submits one recorded voice turn.
	ProcessAudio(ctx context.Context, clip core.Clip, language, sessionID string) (*Reply, error)
}
