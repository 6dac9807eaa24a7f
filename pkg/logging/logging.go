// Package logging installs the slog default logger shared by the tripledger
// server and CLI. Records are colored by tint and written to stderr; the level
// comes from LOG_LEVEL (debug, info, warn, error) unless a command overrides it.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// NewHandler returns a tint handler writing to w. Source locations are only
// attached at debug level.
func NewHandler(w io.Writer, level slog.Level) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		AddSource:  level <= slog.LevelDebug,
	})
}

// Setup installs the default logger at the LOG_LEVEL level.
func Setup() {
	Install(LevelFromEnv())
}

// Install replaces the default logger with a stderr handler at level.
func Install(level slog.Level) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, level)))
}

// LevelFromEnv returns the level named by LOG_LEVEL.
func LevelFromEnv() slog.Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLevel maps a level name to a slog.Level. Unknown names are INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
