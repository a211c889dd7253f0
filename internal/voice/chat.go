package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ChatClient calls the conversational AI service that produces the avatar's
// reply text before it is synthesized.
type ChatClient struct {
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger
}

// NewChatClient builds a client for the AI service at baseURL.
func NewChatClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *ChatClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger.With().Str("component", "chat-client").Logger(),
	}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// Reply sends the user's message and returns the AI's reply text.
func (c *ChatClient) Reply(ctx context.Context, message, sessionID string) (string, error) {
	buf, err := json.Marshal(chatRequest{Message: message, SessionID: sessionID})
	if err != nil {
		return "", fmt.Errorf("chat: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("chat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", upstreamError(resp)
	}

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("chat: decode response: %w", err)
	}
	if body.Reply == "" {
		return "", fmt.Errorf("chat: empty reply from ai service")
	}
	return body.Reply, nil
}
