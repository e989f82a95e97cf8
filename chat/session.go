package chat

import "github.com/google/uuid"

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is a single turn entry. Messages are immutable once appended and
// keep their append order for the lifetime of the session.
type Message struct {
	ID       string `json:"id"`
	Sender   Sender `json:"sender"`
	Text     string `json:"text"`
	Audio    string `json:"audio,omitempty"` // base64-encoded audio payload
	Mime     string `json:"mime,omitempty"`
	AutoPlay bool   `json:"auto_play,omitempty"`
}

// Session is one conversation thread with its ordered message history.
type Session struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

const defaultTitle = "New chat"

// NewID returns a fresh time-ordered unique token. UUIDv7 keeps ids sortable
// by creation time; plain v4 is the fallback if the clock source fails.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// NewUserMessage builds a user-authored text message.
func NewUserMessage(text string) Message {
	return Message{
		ID:     NewID(),
		Sender: SenderUser,
		Text:   text,
	}
}

// NewBotMessage builds an assistant reply message. Audio and mime may be
// empty when the reply is text-only.
func NewBotMessage(text, audio, mime string, autoPlay bool) Message {
	return Message{
		ID:       NewID(),
		Sender:   SenderBot,
		Text:     text,
		Audio:    audio,
		Mime:     mime,
		AutoPlay: autoPlay,
	}
}
