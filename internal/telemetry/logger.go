package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates the structured logger the crawler and claim-sweeper
// processes attach to slog's default logger at startup. Format is "json"
// (production) or "text" (local runs); level is one of: debug, info, warn,
// error, read from Config.LogLevel/LogFormat.
func NewLogger(format, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	var w io.Writer = os.Stdout
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
