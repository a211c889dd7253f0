// Package voice talks to the ElevenLabs text-to-speech API on behalf of the
// gateway. It exposes one-shot synthesis with word timings for lip sync and
// a streaming variant that proxies encoded audio straight through.
package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mira/avatar-relay/internal/speech"
)

// Client is a thin HTTP client for the synthesis API. The API key and voice
// can be swapped at runtime through the control bridge, so access to them is
// synchronized.
type Client struct {
	httpClient *http.Client
	baseURL    string
	modelID    string
	logger     zerolog.Logger

	mu      sync.RWMutex
	apiKey  string
	voiceID string
}

// Config holds the static parts of the client setup.
type Config struct {
	BaseURL string
	APIKey  string
	VoiceID string
	ModelID string
	Timeout time.Duration
}

// NewClient builds a synthesis client. Timeout bounds every request
// end to end, including body reads.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		modelID:    cfg.ModelID,
		logger:     logger.With().Str("component", "voice-client").Logger(),
		apiKey:     cfg.APIKey,
		voiceID:    cfg.VoiceID,
	}
}

// SetAPIKey replaces the API key used for subsequent requests.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

// SetVoice replaces the default voice used when a request names none.
func (c *Client) SetVoice(voiceID string) {
	c.mu.Lock()
	c.voiceID = voiceID
	c.mu.Unlock()
}

// Voice returns the current default voice ID.
func (c *Client) Voice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voiceID
}

func (c *Client) credentials(voiceID string) (key, voice string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if voiceID == "" {
		voiceID = c.voiceID
	}
	return c.apiKey, voiceID
}

// SynthesisResult is one fully synthesized utterance: the encoded audio, its
// MIME type, and the word timings derived from the provider's character
// alignment.
type SynthesisResult struct {
	Audio       []byte
	ContentType string
	Timings     []speech.Timing
}

// defaultContentType is the provider's default output encoding for one-shot
// synthesis (mp3_44100_128).
const defaultContentType = "audio/mpeg"

type synthesizeRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

type alignment struct {
	Characters    []string  `json:"characters"`
	CharStartSecs []float64 `json:"character_start_times_seconds"`
	CharEndSecs   []float64 `json:"character_end_times_seconds"`
}

type synthesizeResponse struct {
	AudioBase64 string    `json:"audio_base64"`
	Alignment   alignment `json:"alignment"`
}

// Synthesize converts text to audio in one shot, returning the decoded audio
// bytes and word timings. Empty voiceID and modelID fall back to the client
// defaults. A failed upstream call is returned as an error carrying the
// provider's status and response detail; there is no retry.
func (c *Client) Synthesize(ctx context.Context, text, voiceID, modelID string) (*SynthesisResult, error) {
	key, voice := c.credentials(voiceID)
	if key == "" {
		return nil, fmt.Errorf("synthesize: no api key configured")
	}
	if voice == "" {
		return nil, fmt.Errorf("synthesize: no voice configured")
	}
	if modelID == "" {
		modelID = c.modelID
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps", c.baseURL, voice)
	resp, err := c.post(ctx, url, key, synthesizeRequest{Text: text, ModelID: modelID})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(resp)
	}

	var body synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("synthesize: decode response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(body.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("synthesize: decode audio: %w", err)
	}

	return &SynthesisResult{
		Audio:       audio,
		ContentType: defaultContentType,
		Timings:     wordTimings(body.Alignment),
	}, nil
}

// Stream starts a streaming synthesis request and hands back the raw audio
// body for the caller to copy through. The caller owns closing the reader.
func (c *Client) Stream(ctx context.Context, text, voiceID string) (io.ReadCloser, string, error) {
	key, voice := c.credentials(voiceID)
	if key == "" {
		return nil, "", fmt.Errorf("stream: no api key configured")
	}
	if voice == "" {
		return nil, "", fmt.Errorf("stream: no voice configured")
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", c.baseURL, voice)
	resp, err := c.post(ctx, url, key, synthesizeRequest{Text: text, ModelID: c.modelID})
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", upstreamError(resp)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return resp.Body, contentType, nil
}

func (c *Client) post(ctx context.Context, url, key string, payload interface{}) (*http.Response, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("voice: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("voice: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice: request failed: %w", err)
	}
	return resp, nil
}

// upstreamError turns a non-200 provider response into an error that keeps
// the status code and a bounded slice of the response body for diagnosis.
func upstreamError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &UpstreamError{
		StatusCode: resp.StatusCode,
		Detail:     strings.TrimSpace(string(detail)),
	}
}

// UpstreamError is a failed response from the synthesis provider.
type UpstreamError struct {
	StatusCode int
	Detail     string
}

func (e *UpstreamError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("synthesis upstream returned %d", e.StatusCode)
	}
	return fmt.Sprintf("synthesis upstream returned %d: %s", e.StatusCode, e.Detail)
}

// wordTimings folds the provider's per-character alignment into per-word
// timings. A word runs from its first character's start to its last
// character's end; whitespace separates words.
func wordTimings(a alignment) []speech.Timing {
	var timings []speech.Timing
	var word strings.Builder
	startMs, endMs := 0, 0

	flush := func() {
		if word.Len() == 0 {
			return
		}
		timings = append(timings, speech.Timing{
			Word:       word.String(),
			StartMs:    startMs,
			DurationMs: endMs - startMs,
		})
		word.Reset()
	}

	for i, ch := range a.Characters {
		if i >= len(a.CharStartSecs) || i >= len(a.CharEndSecs) {
			break
		}
		if strings.TrimSpace(ch) == "" {
			flush()
			continue
		}
		if word.Len() == 0 {
			startMs = msec(a.CharStartSecs[i])
		}
		endMs = msec(a.CharEndSecs[i])
		word.WriteString(ch)
	}
	flush()
	return timings
}

func msec(seconds float64) int {
	return int(math.Round(seconds * 1000))
}
