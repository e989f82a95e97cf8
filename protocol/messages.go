package protocol

import "encoding/json"

// MessageType enumerates all assistant WebSocket message types.
type MessageType string

const (
	// Client -> assistant
	MsgProcessText  MessageType = "process_text"
	MsgProcessAudio MessageType = "process_audio"

	// Assistant -> client
	MsgReply MessageType = "reply"
	MsgError MessageType = "error"
)

// Envelope is the outer JSON wrapper for all WebSocket messages.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TextRequestPayload carries one typed turn.
type TextRequestPayload struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Language  string `json:"language"`
	SessionID string `json:"session_id"`
}

// AudioRequestPayload carries one voice turn as a base64 clip.
type AudioRequestPayload struct {
	RequestID  string `json:"request_id"`
	Audio      string `json:"audio"` // base64 container bytes
	Mime       string `json:"mime"`
	Language   string `json:"language"`
	SessionID  string `json:"session_id"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// ReplyPayload is the assistant's answer to either request kind.
type ReplyPayload struct {
	RequestID     string `json:"request_id"`
	ResponseText  string `json:"response_text"`
	AudioResponse string `json:"audio_response,omitempty"` // base64
	AudioMime     string `json:"audio_mime,omitempty"`
}

// ErrorPayload reports a failed request.
type ErrorPayload struct {
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}
