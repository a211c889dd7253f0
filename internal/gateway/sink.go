package gateway

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mira/avatar-relay/internal/audio"
	"github.com/mira/avatar-relay/internal/control"
	"github.com/mira/avatar-relay/internal/speech"
)

// VoiceControl extends Synthesizer with the runtime settings the control
// channel can change.
type VoiceControl interface {
	Synthesizer
	SetAPIKey(key string)
	SetVoice(voiceID string)
}

// UtteranceSink receives fully synthesized utterances ready for playback.
// The speech controller implements this.
type UtteranceSink interface {
	Speak(u speech.Utterance)
}

// ControlSink translates validated control-channel commands into voice client
// configuration changes and synthesized utterances.
type ControlSink struct {
	voice  VoiceControl
	out    UtteranceSink
	logger zerolog.Logger
}

// NewControlSink wires the control channel onto the voice client and the
// playback pipeline.
func NewControlSink(vc VoiceControl, out UtteranceSink, logger zerolog.Logger) *ControlSink {
	return &ControlSink{
		voice:  vc,
		out:    out,
		logger: logger.With().Str("component", "control-sink").Logger(),
	}
}

// Speak synthesizes the requested text and hands the result to the playback
// pipeline, preempting whatever was playing.
func (s *ControlSink) Speak(ctx context.Context, p control.SpeakPayload) error {
	res, err := s.voice.Synthesize(ctx, p.Text, p.VoiceID, "")
	if err != nil {
		return err
	}
	s.out.Speak(speech.Utterance{
		Chunks:  []audio.Chunk{{Seq: 0, Data: res.Audio}},
		Timings: res.Timings,
	})
	return nil
}

// SaveAPIKey rotates the synthesis API key.
func (s *ControlSink) SaveAPIKey(_ context.Context, key string) error {
	s.voice.SetAPIKey(key)
	s.logger.Info().Msg("synthesis api key updated")
	return nil
}

// SetVoice switches the default voice.
func (s *ControlSink) SetVoice(_ context.Context, voiceID string) error {
	s.voice.SetVoice(voiceID)
	s.logger.Info().Str("voice_id", voiceID).Msg("default voice changed")
	return nil
}
