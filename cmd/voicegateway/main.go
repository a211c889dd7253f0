package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mira/avatar-relay/internal/audio"
	"github.com/mira/avatar-relay/internal/blocklist"
	"github.com/mira/avatar-relay/internal/config"
	"github.com/mira/avatar-relay/internal/control"
	"github.com/mira/avatar-relay/internal/gateway"
	"github.com/mira/avatar-relay/internal/logging"
	"github.com/mira/avatar-relay/internal/moderation"
	"github.com/mira/avatar-relay/internal/ratelimit"
	"github.com/mira/avatar-relay/internal/speech"
	"github.com/mira/avatar-relay/internal/usage"
	"github.com/mira/avatar-relay/internal/voice"
)

// passthroughDecoder hands encoded audio through unchanged. The gateway does
// not play audio itself; decoded bytes go straight to the forwarding player.
type passthroughDecoder struct{}

func (passthroughDecoder) Decode(_ context.Context, data []byte) ([]byte, error) {
	return data, nil
}

// discardPlayer completes playback immediately. Connected clients receive
// the audio over HTTP; the queue exists to serialize control-channel
// utterances and drive the viseme clock.
type discardPlayer struct{}

func (discardPlayer) Play(context.Context, []byte) error { return nil }

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New("voicegateway", cfg.LogLevel, cfg.LogPretty)

	voiceClient := voice.NewClient(voice.Config{
		BaseURL: cfg.ElevenLabsBaseURL,
		APIKey:  cfg.ElevenLabsAPIKey,
		VoiceID: cfg.DefaultVoiceID,
		ModelID: cfg.DefaultModelID,
		Timeout: cfg.SynthesisTimeout,
	}, logger)

	chatClient := voice.NewChatClient(cfg.AIServiceURL, cfg.SynthesisTimeout, logger)

	// --- Playback pipeline driven by the control channel ---
	queue := audio.NewQueue(passthroughDecoder{}, discardPlayer{}, logger)
	driver := speech.NewDriver(logger)
	controller := speech.NewController(queue, driver, func(cue speech.Cue) {
		logger.Debug().
			Str("viseme", string(cue.Viseme)).
			Int("start_ms", cue.StartMs).
			Msg("viseme cue")
	}, logger)

	sink := gateway.NewControlSink(voiceClient, controller, logger)
	bridge := control.NewBridge(cfg.TrustedFrameOrigin, sink, logger)

	// --- Optional Redis rate limiting and client blocking ---
	var limiter *ratelimit.Limiter
	var blocks *blocklist.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, rate limiting and blocking disabled")
		} else {
			limiter = ratelimit.NewLimiter(rdb, logger)
			blocks = blocklist.NewStore(rdb)
		}
	}

	// --- Optional Postgres usage ledger ---
	var ledger *usage.Store
	if cfg.DatabaseURL != "" {
		ledger, err = usage.Open(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("usage ledger open failed")
		}
	}

	opts := gateway.Options{
		Limiter:   limiter,
		Screener:  moderation.NewScreener(),
		Blocklist: blocks,
	}
	if ledger != nil {
		opts.Usage = ledger
	}

	srv := gateway.NewServer(cfg, voiceClient, chatClient, bridge, opts, logger)
	httpServer := &http.Server{
		Addr:         cfg.GatewayAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.SynthesisTimeout + 10*time.Second,
	}

	logger.Info().
		Str("listen_addr", cfg.GatewayAddr).
		Str("synthesis_base_url", cfg.ElevenLabsBaseURL).
		Str("default_voice", cfg.DefaultVoiceID).
		Bool("ledger", ledger != nil).
		Bool("rate_limiting", limiter != nil).
		Msg("voice gateway starting")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")

		controller.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown error")
		}
		if ledger != nil {
			_ = ledger.Close()
		}
		os.Exit(0)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}
}
