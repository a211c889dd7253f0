// Package logging configures the zerolog logger shared by all Mira services.
// Output is JSON by default; a console writer is used when pretty printing is
// enabled for local development.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates the root logger for a service. The level string is one of
// debug, info, warn, error; unknown values fall back to info.
func New(service string, level string, pretty bool) zerolog.Logger {
	var out = zerolog.New(os.Stdout)
	if pretty {
		out = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	return out.Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
