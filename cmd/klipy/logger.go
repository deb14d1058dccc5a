package main

import (
	"io"
	"log/slog"
)

// newLogger builds the process logger. Verbose mode lowers the level to
// debug; components derive their own logger with a "component" attribute.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
