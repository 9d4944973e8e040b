package config

import (
	"io"
	"log/slog"
	"strings"

	"github.com/opensource-finance/farehawk/internal/domain"
)

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewLogger builds a JSON logger, or a text logger when Format is "text".
func NewLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetupLogger installs NewLogger as the slog default.
func SetupLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	logger := NewLogger(cfg, w)
	slog.SetDefault(logger)
	return logger
}
