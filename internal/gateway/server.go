// Package gateway exposes the HTTP voice API: one-shot synthesis with word
// timings, streaming synthesis passthrough, the chat-then-speak endpoint and
// the avatar control channel.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mira/avatar-relay/internal/blocklist"
	"github.com/mira/avatar-relay/internal/config"
	"github.com/mira/avatar-relay/internal/control"
	"github.com/mira/avatar-relay/internal/metrics"
	"github.com/mira/avatar-relay/internal/moderation"
	"github.com/mira/avatar-relay/internal/ratelimit"
	"github.com/mira/avatar-relay/internal/speech"
	"github.com/mira/avatar-relay/internal/usage"
	"github.com/mira/avatar-relay/internal/voice"
)

// Synthesizer is the slice of the voice client the gateway needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, modelID string) (*voice.SynthesisResult, error)
	Stream(ctx context.Context, text, voiceID string) (io.ReadCloser, string, error)
	Voice() string
}

// Replier produces the avatar's reply text for chat-with-voice.
type Replier interface {
	Reply(ctx context.Context, message, sessionID string) (string, error)
}

// UsageLedger is the slice of the usage store the gateway records to and
// reads the per-client daily quota from.
type UsageLedger interface {
	RecordRequest(ctx context.Context, rec usage.Record)
	CountSince(ctx context.Context, remoteAddr string, since time.Time) (int, error)
}

// Server is the voice gateway HTTP server.
type Server struct {
	cfg      *config.Config
	voice    Synthesizer
	chat     Replier
	bridge   *control.Bridge
	usage    UsageLedger
	limiter  *ratelimit.Limiter
	screener *moderation.Screener
	blocks   *blocklist.Store
	logger   zerolog.Logger
}

// Options carries the gateway's optional collaborators; any nil field
// disables that concern.
type Options struct {
	Usage     UsageLedger
	Limiter   *ratelimit.Limiter
	Screener  *moderation.Screener
	Blocklist *blocklist.Store
}

// NewServer wires the gateway's dependencies together.
func NewServer(cfg *config.Config, synth Synthesizer, chat Replier, bridge *control.Bridge,
	opts Options, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		voice:    synth,
		chat:     chat,
		bridge:   bridge,
		usage:    opts.Usage,
		limiter:  opts.Limiter,
		screener: opts.Screener,
		blocks:   opts.Blocklist,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// Handler returns the gateway's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/voice/synthesize", s.withCommon(s.handleSynthesize))
	mux.HandleFunc("/voice/stream", s.withCommon(s.handleStream))
	mux.HandleFunc("/chat-with-voice", s.withCommon(s.handleChatWithVoice))
	mux.HandleFunc("/avatar/message", s.withCommon(s.handleControlMessage))
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// withCommon applies CORS, method enforcement and per-IP rate limiting.
func (s *Server) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.cfg.OriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
			return
		}
		if s.blocks != nil {
			blocked, remaining, _, err := s.blocks.IsBlocked(r.Context(), clientIP(r))
			if err == nil && blocked {
				w.Header().Set("Retry-After", strconv.Itoa(remaining))
				s.writeError(w, http.StatusForbidden, "blocked", "client is blocked")
				return
			}
		}
		if s.limiter != nil {
			ip := clientIP(r)
			allowed, err := s.limiter.Allow(r.Context(), ip, ratelimit.RuleSynthesize)
			if err == nil {
				if remaining, rerr := s.limiter.Remaining(r.Context(), ip, ratelimit.RuleSynthesize); rerr == nil {
					w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
				}
			}
			if err == nil && !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(ratelimit.RuleSynthesize.Window.Seconds())))
				s.writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
		}
		if s.usage != nil && s.cfg.DailySynthesisQuota > 0 {
			since := time.Now().Add(-24 * time.Hour)
			count, err := s.usage.CountSince(r.Context(), clientIP(r), since)
			if err == nil && count >= s.cfg.DailySynthesisQuota {
				s.writeError(w, http.StatusTooManyRequests, "quota_exceeded", "daily synthesis quota reached")
				return
			}
		}
		next(w, r)
	}
}

type synthesizeHTTPRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
	ModelID string `json:"model_id,omitempty"`
}

type synthesizeHTTPResponse struct {
	AudioBase64 string          `json:"audio_base64"`
	ContentType string          `json:"content_type"`
	Timings     []speech.Timing `json:"timings"`
}

const maxTextLength = 5000

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeHTTPRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	start := time.Now()
	res, err := s.voice.Synthesize(r.Context(), req.Text, req.VoiceID, req.ModelID)
	s.recordUsage(r, "synthesize", req.VoiceID, len(req.Text), start, err)
	if err != nil {
		s.writeUpstreamError(w, "synthesize", err)
		return
	}

	s.writeJSON(w, http.StatusOK, synthesizeHTTPResponse{
		AudioBase64: base64.StdEncoding.EncodeToString(res.Audio),
		ContentType: res.ContentType,
		Timings:     res.Timings,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req synthesizeHTTPRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	start := time.Now()
	body, contentType, err := s.voice.Stream(r.Context(), req.Text, req.VoiceID)
	s.recordUsage(r, "stream", req.VoiceID, len(req.Text), start, err)
	if err != nil {
		s.writeUpstreamError(w, "stream", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		// Headers are gone; all we can do is log the broken copy.
		s.logger.Warn().Err(err).Msg("stream copy interrupted")
	}
}

type chatWithVoiceRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
}

type chatWithVoiceResponse struct {
	Reply       string          `json:"reply"`
	AudioBase64 string          `json:"audio_base64"`
	ContentType string          `json:"content_type"`
	Timings     []speech.Timing `json:"timings"`
}

func (s *Server) handleChatWithVoice(w http.ResponseWriter, r *http.Request) {
	var req chatWithVoiceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}
	if !s.screenText(w, r, req.Message) {
		return
	}

	start := time.Now()
	reply, err := s.chat.Reply(r.Context(), req.Message, req.SessionID)
	if err != nil {
		s.recordUsage(r, "chat", req.VoiceID, len(req.Message), start, err)
		s.writeUpstreamError(w, "chat", err)
		return
	}

	res, err := s.voice.Synthesize(r.Context(), reply, req.VoiceID, "")
	s.recordUsage(r, "chat", req.VoiceID, len(reply), start, err)
	if err != nil {
		s.writeUpstreamError(w, "chat", err)
		return
	}

	s.writeJSON(w, http.StatusOK, chatWithVoiceResponse{
		Reply:       reply,
		AudioBase64: base64.StdEncoding.EncodeToString(res.Audio),
		ContentType: res.ContentType,
		Timings:     res.Timings,
	})
}

func (s *Server) handleControlMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if err := s.bridge.Handle(r.Context(), r.Header.Get("Origin"), raw); err != nil {
		if errors.Is(err, control.ErrUntrustedOrigin) {
			s.writeError(w, http.StatusForbidden, "untrusted_origin", "origin not allowed")
			return
		}
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody parses and validates the common synthesize request shape.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, req *synthesizeHTTPRequest) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "text is required")
		return false
	}
	if len(req.Text) > maxTextLength {
		s.writeError(w, http.StatusBadRequest, "text_too_long", "text exceeds maximum length")
		return false
	}
	return s.screenText(w, r, req.Text)
}

// screenText rejects text that fails content screening and records the
// violation against the client. Returns true when the text is acceptable.
func (s *Server) screenText(w http.ResponseWriter, r *http.Request, text string) bool {
	if s.screener == nil {
		return true
	}
	result := s.screener.Check(text)
	if !result.Blocked {
		return true
	}

	ip := clientIP(r)
	s.logger.Warn().
		Str("remote", ip).
		Str("reason", result.Reason).
		Str("term", result.Term).
		Msg("synthesis text screened")
	if s.blocks != nil {
		if _, _, err := s.blocks.RecordViolation(r.Context(), ip, result.Reason); err != nil {
			s.logger.Warn().Err(err).Msg("violation record failed")
		}
	}
	s.writeError(w, http.StatusBadRequest, "content_blocked", "text failed content screening")
	return false
}

// writeUpstreamError maps a failed provider call onto our HTTP surface,
// keeping the provider's status and detail visible to the caller.
func (s *Server) writeUpstreamError(w http.ResponseWriter, endpoint string, err error) {
	var up *voice.UpstreamError
	if errors.As(err, &up) {
		status := http.StatusBadGateway
		if up.StatusCode == http.StatusUnauthorized || up.StatusCode == http.StatusTooManyRequests {
			status = up.StatusCode
		}
		s.writeError(w, status, "upstream_error", up.Error())
		return
	}
	s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
	s.writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
}

func (s *Server) recordUsage(r *http.Request, endpoint, voiceID string, chars int, start time.Time, reqErr error) {
	elapsed := time.Since(start)
	status := "ok"
	if reqErr != nil {
		status = "error"
	}
	metrics.SynthesisRequests.WithLabelValues(endpoint, status).Inc()
	metrics.SynthesisLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())

	if s.usage == nil {
		return
	}
	rec := usage.Record{
		Endpoint:   endpoint,
		VoiceID:    voiceID,
		Characters: chars,
		LatencyMs:  int(elapsed.Milliseconds()),
		Status:     status,
		RemoteAddr: clientIP(r),
	}
	if reqErr != nil {
		rec.Detail = reqErr.Error()
	}
	if rec.VoiceID == "" {
		rec.VoiceID = s.voice.Voice()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	go func() {
		defer cancel()
		s.usage.RecordRequest(ctx, rec)
	}()
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("response encode failed")
	}
}

// clientIP prefers the first hop of X-Forwarded-For, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
