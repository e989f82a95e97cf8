package assistant

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"chatkit/core"
)

// HTTPClient talks to the assistant's REST API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *core.Logger
}

// textRequest is the request body for POST /api/process_text.
type textRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	UserID   string `json:"user_id"`
}

// processResponse is the response body for both process endpoints.
type processResponse struct {
	ResponseText     string `json:"response_text"`
	DetectedLanguage string `json:"detected_language,omitempty"`
	AudioResponse    string `json:"audio_response,omitempty"`
	AudioMime        string `json:"audio_mime,omitempty"`
}

// NewHTTPClient creates a REST client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *core.Logger) *HTTPClient {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(map[string]interface{}{"component": "assistant.http"}),
	}
}

// ProcessText submits one typed turn as a JSON request.
func (c *HTTPClient) ProcessText(ctx context.Context, text, language, sessionID string) (*Reply, error) {
	body, err := sonic.Marshal(textRequest{
		Text:     text,
		Language: language,
		UserID:   sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: marshal text request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/process_text", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("assistant: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// ProcessAudio submits one voice turn as a multipart upload. The clip travels
// as a file part with its declared container MIME type.
func (c *HTTPClient) ProcessAudio(ctx context.Context, clip core.Clip, language, sessionID string) (*Reply, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("audio", "clip.wav")
	if err != nil {
		return nil, fmt.Errorf("assistant: create audio part: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, fmt.Errorf("assistant: write audio part: %w", err)
	}
	if err := form.WriteField("language", language); err != nil {
		return nil, fmt.Errorf("assistant: write language field: %w", err)
	}
	if err := form.WriteField("user_id", sessionID); err != nil {
		return nil, fmt.Errorf("assistant: write user_id field: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("assistant: finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/process_audio", &buf)
	if err != nil {
		return nil, fmt.Errorf("assistant: create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	return c.do(req)
}

func (c *HTTPClient) do(req *http.Request) (*Reply, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assistant: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("assistant: status %d: %s", resp.StatusCode, string(respBody))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("assistant: read response: %w", err)
	}

	var out processResponse
	if err := sonic.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("assistant: decode response: %w", err)
	}

	return &Reply{
		Text:  out.ResponseText,
		Audio: out.AudioResponse,
		Mime:  out.AudioMime,
	}, nil
}
