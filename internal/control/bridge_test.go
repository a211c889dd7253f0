package control

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type recordingSink struct {
	spoke   []SpeakPayload
	keys    []string
	voices  []string
	failAll bool
}

func (s *recordingSink) Speak(_ context.Context, p SpeakPayload) error {
	if s.failAll {
		return errors.New("sink failure")
	}
	s.spoke = append(s.spoke, p)
	return nil
}

func (s *recordingSink) SaveAPIKey(_ context.Context, key string) error {
	if s.failAll {
		return errors.New("sink failure")
	}
	s.keys = append(s.keys, key)
	return nil
}

func (s *recordingSink) SetVoice(_ context.Context, voiceID string) error {
	if s.failAll {
		return errors.New("sink failure")
	}
	s.voices = append(s.voices, voiceID)
	return nil
}

const trusted = "https://app.example.com"

func TestSpeakCommandReachesSink(t *testing.T) {
	sink := &recordingSink{}
	b := NewBridge(trusted, sink, zerolog.Nop())

	raw := []byte(`{"type":"speak","payload":{"text":"hello there","voiceId":"v9"}}`)
	if err := b.Handle(context.Background(), trusted, raw); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sink.spoke) != 1 || sink.spoke[0].Text != "hello there" || sink.spoke[0].VoiceID != "v9" {
		t.Fatalf("sink got %+v", sink.spoke)
	}
}

func TestSaveAPIKeyAndSetVoice(t *testing.T) {
	sink := &recordingSink{}
	b := NewBridge(trusted, sink, zerolog.Nop())

	if err := b.Handle(context.Background(), trusted,
		[]byte(`{"type":"saveApiKey","payload":{"apiKey":"sk-new"}}`)); err != nil {
		t.Fatalf("saveApiKey: %v", err)
	}
	if err := b.Handle(context.Background(), trusted,
		[]byte(`{"type":"setVoice","payload":{"voiceId":"v2"}}`)); err != nil {
		t.Fatalf("setVoice: %v", err)
	}
	if len(sink.keys) != 1 || sink.keys[0] != "sk-new" {
		t.Errorf("keys = %v", sink.keys)
	}
	if len(sink.voices) != 1 || sink.voices[0] != "v2" {
		t.Errorf("voices = %v", sink.voices)
	}
}

func TestUntrustedOriginRejected(t *testing.T) {
	sink := &recordingSink{}
	b := NewBridge(trusted, sink, zerolog.Nop())

	err := b.Handle(context.Background(), "https://evil.example.com",
		[]byte(`{"type":"speak","payload":{"text":"hi"}}`))
	if !errors.Is(err, ErrUntrustedOrigin) {
		t.Fatalf("err = %v, want ErrUntrustedOrigin", err)
	}
	if len(sink.spoke) != 0 {
		t.Error("untrusted message reached the sink")
	}
}

func TestEmptyConfiguredOriginRejectsEverything(t *testing.T) {
	b := NewBridge("", &recordingSink{}, zerolog.Nop())
	err := b.Handle(context.Background(), "", []byte(`{"type":"speak","payload":{"text":"hi"}}`))
	if !errors.Is(err, ErrUntrustedOrigin) {
		t.Fatalf("err = %v, want ErrUntrustedOrigin", err)
	}
}

func TestWildcardOriginAcceptsAny(t *testing.T) {
	sink := &recordingSink{}
	b := NewBridge("*", sink, zerolog.Nop())
	if err := b.Handle(context.Background(), "https://anything.example.com",
		[]byte(`{"type":"speak","payload":{"text":"hi"}}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sink.spoke) != 1 {
		t.Error("wildcard origin did not deliver")
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	sink := &recordingSink{}
	b := NewBridge(trusted, sink, zerolog.Nop())
	err := b.Handle(context.Background(), trusted,
		[]byte(`{"type":"analyticsEvent","payload":{"x":1}}`))
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
	if len(sink.spoke)+len(sink.keys)+len(sink.voices) != 0 {
		t.Error("unknown type reached the sink")
	}
}

func TestMissingRequiredFields(t *testing.T) {
	b := NewBridge(trusted, &recordingSink{}, zerolog.Nop())
	tests := []string{
		`{"type":"speak","payload":{}}`,
		`{"type":"saveApiKey","payload":{}}`,
		`{"type":"setVoice","payload":{}}`,
		`not json at all`,
	}
	for _, raw := range tests {
		if err := b.Handle(context.Background(), trusted, []byte(raw)); err == nil {
			t.Errorf("Handle(%s) succeeded, want error", raw)
		}
	}
}
