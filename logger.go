package main

import (
	"io"
	"log/slog"
)

// newLogger builds the CLI logger writing to outW. Levels are the names
// accepted by -log-level; anything else falls back to warn, the flag default.
// Debug output also records the source location of each call.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	level := slog.LevelWarn
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(levelStr)); err == nil {
		level = parsed
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}
	var handler slog.Handler
	switch formatStr {
	case "json":
		handler = slog.NewJSONHandler(outW, handlerOpts)
	default:
		handler = slog.NewTextHandler(outW, handlerOpts)
	}
	return slog.New(handler).With("cmd", "gebuild")
}
