// Package logger builds the toolkit's slog loggers: a console handler
// for interactive use and JSON for everything else.
package logger

import (
	"io"
	"log/slog"
	"strings"

	"github.com/phsym/console-slog"
)

// New returns a logger writing to w at the given level. Format is
// "text" for console output or "json". Unknown levels fall back to INFO.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := parseLevel(level)

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = console.NewHandler(w, &console.HandlerOptions{Level: lvl})
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
