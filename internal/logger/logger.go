// Package logger holds the process-wide zerolog logger and helpers that
// attach the ids every log line in this service is keyed by.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger discards output until Init is called, so packages are quiet in tests
var Logger = zerolog.Nop()

// Init configures the global logger. format is "json" or "console"; anything
// else falls back to console output for terminals.
func Init(serviceName, level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	Logger = zerolog.New(out).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

func with(key, value string) *zerolog.Logger {
	l := Logger.With().Str(key, value).Logger()
	return &l
}

func WithJobID(jobID string) *zerolog.Logger { return with("job_id", jobID) }

func WithOwnerID(ownerID string) *zerolog.Logger { return with("owner_id", ownerID) }

func WithCorrelationID(correlationID string) *zerolog.Logger {
	return with("correlation_id", correlationID)
}
