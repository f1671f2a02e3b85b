// Package observability records what the ingestion pipeline did in a
// local SQLite database: one row per pipeline stage per document, plus
// HTTP request logs and worker heartbeats.
//
// The event store is deliberately separate from the Postgres document
// store. Losing it never corrupts domain state, and a failing event
// write never blocks the pipeline.
package observability

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process-wide JSON logger at the given level
// (debug|info|warn|error; anything else means info) and installs it as
// slog.Default.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
