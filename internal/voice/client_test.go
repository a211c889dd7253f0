package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		VoiceID: "voice-1",
		ModelID: "model-1",
		Timeout: 5 * time.Second,
	}, zerolog.Nop())
	return client, srv
}

func TestSynthesizeDecodesAudioAndFoldsWordTimings(t *testing.T) {
	audio := []byte("fake-mp3-bytes")
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-1/with-timestamps" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		var req synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "hi yo" {
			t.Errorf("text = %q", req.Text)
		}
		if req.ModelID != "model-1" {
			t.Errorf("model = %q, want configured default", req.ModelID)
		}
		json.NewEncoder(w).Encode(synthesizeResponse{
			AudioBase64: base64.StdEncoding.EncodeToString(audio),
			Alignment: alignment{
				Characters:    []string{"h", "i", " ", "y", "o"},
				CharStartSecs: []float64{0.0, 0.1, 0.2, 0.3, 0.4},
				CharEndSecs:   []float64{0.1, 0.2, 0.3, 0.4, 0.5},
			},
		})
	})

	res, err := client.Synthesize(context.Background(), "hi yo", "", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Audio) != string(audio) {
		t.Errorf("audio = %q, want %q", res.Audio, audio)
	}
	if res.ContentType != "audio/mpeg" {
		t.Errorf("content type = %q", res.ContentType)
	}
	if len(res.Timings) != 2 {
		t.Fatalf("got %d timings, want 2: %v", len(res.Timings), res.Timings)
	}
	if res.Timings[0].Word != "hi" || res.Timings[0].StartMs != 0 || res.Timings[0].DurationMs != 200 {
		t.Errorf("first timing = %+v", res.Timings[0])
	}
	if res.Timings[1].Word != "yo" || res.Timings[1].StartMs != 300 || res.Timings[1].DurationMs != 200 {
		t.Errorf("second timing = %+v", res.Timings[1])
	}
}

func TestSynthesizeUpstreamErrorCarriesDetail(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"detail":"invalid api key"}`)
	})

	_, err := client.Synthesize(context.Background(), "hello", "", "")
	if err == nil {
		t.Fatal("expected error")
	}
	var up *UpstreamError
	if !errors.As(err, &up) {
		t.Fatalf("error type %T, want *UpstreamError", err)
	}
	if up.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", up.StatusCode)
	}
	if !strings.Contains(up.Detail, "invalid api key") {
		t.Errorf("detail = %q", up.Detail)
	}
}

func TestSynthesizeModelOverride(t *testing.T) {
	var gotModel string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotModel = req.ModelID
		json.NewEncoder(w).Encode(synthesizeResponse{})
	})

	if _, err := client.Synthesize(context.Background(), "hello", "", "eleven_multilingual_v2"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotModel != "eleven_multilingual_v2" {
		t.Errorf("model = %q, want request override", gotModel)
	}
}

func TestSynthesizeRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://localhost:1", VoiceID: "v"}, zerolog.Nop())
	if _, err := client.Synthesize(context.Background(), "hello", "", ""); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestStreamPassesAudioThrough(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-override/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3 frame data"))
	})

	body, contentType, err := client.Stream(context.Background(), "hello", "voice-override")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer body.Close()

	if contentType != "audio/mpeg" {
		t.Errorf("content type = %q", contentType)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "mp3 frame data" {
		t.Errorf("body = %q", data)
	}
}

func TestSetVoiceAndAPIKeyTakeEffect(t *testing.T) {
	var gotPath, gotKey string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		json.NewEncoder(w).Encode(synthesizeResponse{})
	})

	client.SetAPIKey("rotated-key")
	client.SetVoice("voice-2")
	if _, err := client.Synthesize(context.Background(), "hello", "", ""); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/v1/text-to-speech/voice-2/with-timestamps" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "rotated-key" {
		t.Errorf("key = %q", gotKey)
	}
}

func TestWordTimingsHandlesEdgeShapes(t *testing.T) {
	if got := wordTimings(alignment{}); got != nil {
		t.Errorf("empty alignment produced %v", got)
	}
	// Truncated start/end arrays stop folding instead of panicking.
	got := wordTimings(alignment{
		Characters:    []string{"h", "i", " ", "x"},
		CharStartSecs: []float64{0.0, 0.1},
		CharEndSecs:   []float64{0.1, 0.2},
	})
	if len(got) != 1 || got[0].Word != "hi" {
		t.Errorf("timings = %v, want just [hi]", got)
	}
}

func TestChatClientReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Message != "how are you" {
			t.Errorf("message = %q", req.Message)
		}
		json.NewEncoder(w).Encode(chatResponse{Reply: "doing well"})
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, 5*time.Second, zerolog.Nop())
	reply, err := c.Reply(context.Background(), "how are you", "sess-1")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply != "doing well" {
		t.Errorf("reply = %q", reply)
	}
}

func TestChatClientEmptyReplyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer srv.Close()

	c := NewChatClient(srv.URL, 5*time.Second, zerolog.Nop())
	if _, err := c.Reply(context.Background(), "hi", ""); err == nil {
		t.Fatal("expected error for empty reply")
	}
}
