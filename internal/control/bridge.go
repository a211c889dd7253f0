// Package control implements the typed control channel through which an
// embedding application drives the avatar: making it speak, rotating the
// synthesis API key and switching voices. Messages are accepted only from a
// configured trusted origin.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Control message types. Anything else is rejected.
const (
	TypeSpeak      = "speak"
	TypeSaveAPIKey = "saveApiKey"
	TypeSetVoice   = "setVoice"
)

// ErrUntrustedOrigin is returned for messages from any origin other than the
// configured one.
var ErrUntrustedOrigin = errors.New("control: untrusted origin")

// Message is the wire shape of a control message.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SpeakPayload asks the avatar to speak the given text, optionally with a
// specific voice.
type SpeakPayload struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
}

// SaveAPIKeyPayload carries a replacement synthesis API key.
type SaveAPIKeyPayload struct {
	APIKey string `json:"apiKey"`
}

// SetVoicePayload selects a new default voice.
type SetVoicePayload struct {
	VoiceID string `json:"voiceId"`
}

// Sink receives validated control commands. The gateway implements this over
// the voice client and the speech pipeline.
type Sink interface {
	Speak(ctx context.Context, p SpeakPayload) error
	SaveAPIKey(ctx context.Context, key string) error
	SetVoice(ctx context.Context, voiceID string) error
}

// Bridge validates inbound control messages and forwards them to the sink.
type Bridge struct {
	trustedOrigin string
	sink          Sink
	logger        zerolog.Logger
}

// NewBridge creates a bridge accepting messages only from trustedOrigin.
// An origin of "*" disables the check; an empty origin rejects everything.
func NewBridge(trustedOrigin string, sink Sink, logger zerolog.Logger) *Bridge {
	return &Bridge{
		trustedOrigin: trustedOrigin,
		sink:          sink,
		logger:        logger.With().Str("component", "control-bridge").Logger(),
	}
}

// Handle processes one raw control message from the given origin. A rejected
// origin, unrecognized type, malformed body or failed command is reported
// back as an error.
func (b *Bridge) Handle(ctx context.Context, origin string, raw []byte) error {
	if !b.originTrusted(origin) {
		b.logger.Warn().Str("origin", origin).Msg("control message from untrusted origin rejected")
		return ErrUntrustedOrigin
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("control: parse message: %w", err)
	}

	switch msg.Type {
	case TypeSpeak:
		var p SpeakPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("control: parse speak payload: %w", err)
		}
		if p.Text == "" {
			return fmt.Errorf("control: speak requires text")
		}
		return b.sink.Speak(ctx, p)

	case TypeSaveAPIKey:
		var p SaveAPIKeyPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("control: parse saveApiKey payload: %w", err)
		}
		if p.APIKey == "" {
			return fmt.Errorf("control: saveApiKey requires apiKey")
		}
		return b.sink.SaveAPIKey(ctx, p.APIKey)

	case TypeSetVoice:
		var p SetVoicePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("control: parse setVoice payload: %w", err)
		}
		if p.VoiceID == "" {
			return fmt.Errorf("control: setVoice requires voiceId")
		}
		return b.sink.SetVoice(ctx, p.VoiceID)

	default:
		b.logger.Warn().Str("type", msg.Type).Msg("unknown control message type rejected")
		return fmt.Errorf("control: unknown message type %q", msg.Type)
	}
}

func (b *Bridge) originTrusted(origin string) bool {
	if b.trustedOrigin == "*" {
		return true
	}
	return b.trustedOrigin != "" && origin == b.trustedOrigin
}
