// Package config loads service configuration from the environment. A .env
// file is honoured when present; values are read once at process start and
// never reloaded.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the settings for both the relay server and the voice gateway.
// Fields irrelevant to a given binary are simply unused by it.
type Config struct {
	// Relay server
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	MetricsAddr    string        `envconfig:"METRICS_ADDR" default:":9090"`
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"256"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"100000"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`

	// Infrastructure
	NATSUrl     string `envconfig:"NATS_URL" default:""`
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	ServerName  string `envconfig:"SERVER_NAME" default:""`

	// Voice gateway
	GatewayAddr        string        `envconfig:"GATEWAY_ADDR" default:":8081"`
	ElevenLabsAPIKey   string        `envconfig:"ELEVENLABS_API_KEY" default:""`
	ElevenLabsBaseURL  string        `envconfig:"ELEVENLABS_BASE_URL" default:"https://api.elevenlabs.io"`
	DefaultVoiceID     string        `envconfig:"DEFAULT_VOICE_ID" default:"EXAVITQu4vr4xnSDxMaL"`
	DefaultModelID     string        `envconfig:"DEFAULT_MODEL_ID" default:"eleven_turbo_v2"`
	AIServiceURL       string        `envconfig:"AI_SERVICE_URL" default:""`
	SynthesisTimeout   time.Duration `envconfig:"SYNTHESIS_TIMEOUT" default:"30s"`
	AllowedOrigins     []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	TrustedFrameOrigin string        `envconfig:"TRUSTED_FRAME_ORIGIN" default:"http://localhost:3000"`

	// DailySynthesisQuota caps synthesis requests per client IP over a
	// trailing 24 hours, counted from the usage ledger. 0 disables the cap.
	DailySynthesisQuota int `envconfig:"DAILY_SYNTHESIS_QUOTA" default:"0"`

	// Observability
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads configuration from a .env file (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// OriginAllowed reports whether origin is in the allowed-origins list.
// An entry of "*" allows any origin.
func (c *Config) OriginAllowed(origin string) bool {
	for _, o := range c.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
