package bootstrap

import (
	"log/slog"
	"os"

	"textbook-rag/internal/config"
)

// NewLogger builds the process logger and installs it as the slog default.
// Production emits JSON; everything else is human-readable text.
func NewLogger(cfg config.AppConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Env == "prod" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(h).With("app", cfg.Name)
	slog.SetDefault(logger)
	return logger
}
