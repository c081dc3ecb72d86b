// Package log owns the process-wide slog logger. Components take an
// optional *slog.Logger and fall back to L through Or.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// ParseLevel maps a config string to a slog level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Init sets the global logger once; later calls are ignored. Output is
// JSON when format is "json" or GO_ENV is production, text otherwise.
func Init(level, format string) {
	once.Do(func() {
		opts := &slog.HandlerOptions{Level: ParseLevel(level)}
		var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
		if strings.EqualFold(format, "json") || os.Getenv("GO_ENV") == "production" {
			h = slog.NewJSONHandler(os.Stdout, opts)
		}
		logger = slog.New(h)
		slog.SetDefault(logger)
	})
}

// L returns the global logger, initializing it at info if needed.
func L() *slog.Logger {
	if logger == nil {
		Init("info", "text")
	}
	return logger
}

// Or returns l, or the global logger when l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return L()
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
