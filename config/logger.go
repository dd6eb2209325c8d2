package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// LogLevel parses a LOG_LEVEL value, anything unknown is INFO.
// DEBUG also turns on source locations.
func LogLevel(s string) (level slog.Level, addSource bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "WARN":
		return slog.LevelWarn, false
	case "ERROR":
		return slog.LevelError, false
	}
	return slog.LevelInfo, false
}

// SetupLogger returns a tint logger for app writing to stdout at the LOG_LEVEL level
func SetupLogger(app string) *slog.Logger {
	return NewLogger(os.Stdout, app, os.Getenv("LOG_LEVEL"))
}

// NewLogger returns a tint logger writing to w
func NewLogger(w io.Writer, app, level string) *slog.Logger {
	logLevel, addSource := LogLevel(level)
	handler := tint.NewHandler(w, &tint.Options{
		AddSource: addSource,
		Level:     logLevel,
	})

	logger := slog.New(handler).With("app", app)
	logger.Info("Logger initialized", "level", logLevel)
	return logger
}
