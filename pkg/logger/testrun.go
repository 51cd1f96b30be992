package logger

import (
	"io"
	"log/slog"
)

// NewTestHandler discards all output; tests only care that log calls don't panic.
func NewTestHandler(level slog.Level) slog.Handler {
	return slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: level})
}
