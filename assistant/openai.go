package assistant

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/sashabaranov/go-openai"

	"chatkit/config"
	"chatkit/core"
)

const historyLimit = 20 // messages kept per session for chat context

// OpenAIConfig holds the configuration for the OpenAI-backed collaborator.
type OpenAIConfig struct {
	APIKey string
	Model  string
	Voice  string
	// Speak controls whether replies carry a synthesized audio payload.
	Speak bool
}

// OpenAIClient runs the assistant in-process against the OpenAI API: chat
// completion for the reply text, Whisper for voice turn transcription, and
// speech synthesis for the audio payload. Each session keeps a bounded chat
// history so follow-up turns stay coherent.
type OpenAIClient struct {
	client *openai.Client
	config OpenAIConfig
	logger *core.Logger

	mu      sync.Mutex
	history map[string][]openai.ChatCompletionMessage
}

// NewOpenAIClient creates the OpenAI-backed collaborator.
func NewOpenAIClient(cfg OpenAIConfig, logger *core.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("assistant: OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &OpenAIClient{
		client:  openai.NewClient(cfg.APIKey),
		config:  cfg,
		logger:  logger.With(map[string]interface{}{"component": "assistant.openai"}),
		history: make(map[string][]openai.ChatCompletionMessage),
	}, nil
}

// ProcessText answers one typed turn.
func (c *OpenAIClient) ProcessText(ctx context.Context, text, language, sessionID string) (*Reply, error) {
	return c.respond(ctx, text, language, sessionID)
}

// ProcessAudio transcribes the clip with Whisper, then answers the
// transcribed text like a typed turn.
func (c *OpenAIClient) ProcessAudio(ctx context.Context, clip core.Clip, language, sessionID string) (*Reply, error) {
	transcript, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "clip.wav",
		Reader:   bytes.NewReader(clip.Data),
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: transcribe clip: %w", err)
	}
	if transcript.Text == "" {
		return nil, fmt.Errorf("assistant: could not transcribe audio")
	}

	c.logger.With(map[string]interface{}{
		"session_id": sessionID,
		"chars":      len(transcript.Text),
	}).Debug("clip transcribed")

	return c.respond(ctx, transcript.Text, language, sessionID)
}

func (c *OpenAIClient) respond(ctx context.Context, text, language, sessionID string) (*Reply, error) {
	messages := c.contextFor(sessionID, language)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("assistant: empty completion")
	}
	answer := resp.Choices[0].Message.Content

	c.remember(sessionID, text, answer)

	reply := &Reply{Text: answer}
	if c.config.Speak {
		audio, mime, err := c.synthesize(ctx, answer)
		if err != nil {
			// A silent reply is better than a dropped turn.
			c.logger.With(map[string]interface{}{"error": err}).Warn("speech synthesis failed")
		} else {
			reply.Audio = audio
			reply.Mime = mime
		}
	}
	return reply, nil
}

// synthesize renders the reply text to speech and returns it base64-encoded.
func (c *OpenAIClient) synthesize(ctx context.Context, text string) (string, string, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(c.config.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", "", fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return "", "", fmt.Errorf("read speech stream: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), "audio/mpeg", nil
}

// contextFor returns the session's chat context, seeding the language
// instruction on first use.
func (c *OpenAIClient) contextFor(sessionID, language string) []openai.ChatCompletionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	past := c.history[sessionID]
	name := config.SupportedLanguages[config.NormalizeLanguage(language)]
	out := make([]openai.ChatCompletionMessage, 0, len(past)+2)
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf("You are a helpful multilingual assistant. Always reply in %s.", name),
	})
	out = append(out, past...)
	return out
}

// remember appends the turn to the session history, dropping the oldest
// entries past the limit.
func (c *OpenAIClient) remember(sessionID, userText, botText string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := append(c.history[sessionID],
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userText},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: botText},
	)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}
	c.history[sessionID] = h
}
