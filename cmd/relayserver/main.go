package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mira/avatar-relay/internal/config"
	"github.com/mira/avatar-relay/internal/logging"
	"github.com/mira/avatar-relay/internal/messaging"
	"github.com/mira/avatar-relay/internal/metrics"
	"github.com/mira/avatar-relay/internal/presence"
	"github.com/mira/avatar-relay/internal/protocol"
	"github.com/mira/avatar-relay/internal/ratelimit"
	"github.com/mira/avatar-relay/internal/relay"
	"github.com/mira/avatar-relay/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New("relayserver", cfg.LogLevel, cfg.LogPretty)

	serverName := cfg.ServerName
	if serverName == "" {
		serverName, _ = os.Hostname()
	}
	if serverName == "" {
		serverName = "relay-1"
	}

	// --- NATS (optional: single-instance deployments skip it) ---
	var natsClient *messaging.NATSClient
	if cfg.NATSUrl != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSUrl
		natsClient, err = messaging.NewNATSClient(natsConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.NATSUrl).Msg("nats connect failed")
		}
	}

	// --- Redis presence + rate limiting ---
	presenceStore, err := presence.NewStore(cfg.RedisAddr, serverName)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect failed")
	}
	limiter := ratelimit.NewLimiter(presenceStore.Client(), logger)

	wsConfig := ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}

	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("metrics_addr", cfg.MetricsAddr).
		Str("nats_url", cfg.NATSUrl).
		Str("redis_addr", cfg.RedisAddr).
		Str("server_name", serverName).
		Msg("relay server starting")

	dispatcher := ws.NewEventDispatcher(logger)
	server := ws.NewServer(wsConfig, presenceStore, logger, dispatcher.Dispatch)

	rel := relay.New(serverName, server, relay.Options{
		Presence: presenceStore,
		NATS:     natsClient,
		Limiter:  limiter,
	}, logger)

	// -----------------------------------------------------------------------
	// join-session / leave-session — room membership
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinSession, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.JoinSessionMsg)
		if !ok {
			return
		}
		rel.HandleJoin(context.Background(), conn.ID, m)
	})

	dispatcher.Register(protocol.TypeLeaveSession, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.LeaveSessionMsg)
		if !ok {
			return
		}
		rel.HandleLeave(context.Background(), conn.ID, m)
	})

	// -----------------------------------------------------------------------
	// session-message / biometric-update / pose-update / send-reaction —
	// room-scoped fan-out
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSessionMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SessionMessageMsg)
		if !ok {
			return
		}
		rel.HandleSessionMessage(context.Background(), conn.ID, m)
	})

	dispatcher.Register(protocol.TypeBiometricUpdate, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.BiometricUpdateMsg)
		if !ok {
			return
		}
		rel.HandleBiometricUpdate(context.Background(), conn.ID, m)
	})

	dispatcher.Register(protocol.TypePoseUpdate, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.PoseUpdateMsg)
		if !ok {
			return
		}
		rel.HandlePoseUpdate(context.Background(), conn.ID, m)
	})

	dispatcher.Register(protocol.TypeSendReaction, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SendReactionMsg)
		if !ok {
			return
		}
		rel.HandleReaction(context.Background(), conn.ID, m)
	})

	server.SetOnDisconnect(rel.HandleDisconnect)

	server.SetConnectGate(func(remoteIP string) bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		allowed, _ := limiter.Allow(ctx, remoteIP, ratelimit.RuleConnect)
		return allowed
	})

	// Metrics on a separate listener so the relay port stays minimal.
	metricsServer := &http.Server{
		Addr: cfg.MetricsAddr,
		Handler: func() http.Handler {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			return mux
		}(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")

		if natsClient != nil {
			natsClient.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(ctx)
		cancel()
		if err := server.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("shutdown error")
		}
		if err := presenceStore.Close(); err != nil {
			logger.Warn().Err(err).Msg("presence store close error")
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}
