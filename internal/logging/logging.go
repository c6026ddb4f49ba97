// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvLevel is the environment variable that selects the log level.
const EnvLevel = "LOG_LEVEL"

// ParseLevel maps a level name to a slog.Level. Unknown or empty names map to
// info; the second return value reports whether the name was recognised.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace", "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, name != ""
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// LevelFromEnv returns the level selected by LOG_LEVEL.
func LevelFromEnv() slog.Level {
	level, _ := ParseLevel(os.Getenv(EnvLevel))
	return level
}

// New creates a text logger writing to w at level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// Setup installs a stderr text logger at the LOG_LEVEL level as the default
// and returns it. Stderr keeps stdout clean for query output.
func Setup() *slog.Logger {
	logger := New(os.Stderr, LevelFromEnv())
	slog.SetDefault(logger)

	if raw := os.Getenv(EnvLevel); raw != "" {
		if _, ok := ParseLevel(raw); !ok {
			logger.Warn("unknown log level, using info", "value", raw)
		}
	}
	return logger
}
