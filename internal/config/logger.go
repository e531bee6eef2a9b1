package config

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the process logger. Production writes JSON, every other
// environment writes logfmt-style text. LOG_LEVEL picks the minimum level.
func NewLogger(env string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(envStr("LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
