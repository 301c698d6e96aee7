// Package logging wraps log/slog with the "pkg:Func - message" prefix
// convention used throughout this module.
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// LevelFromString parses a config-supplied log level name, defaulting to
// info for anything unrecognized.
func LevelFromString(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init installs a text-handler default logger at the given level, writing
// to stdout.
func Init(level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: LevelFromString(level),
	})))
}

// Prefixed returns a logger helper bound to a "pkg:func" prefix.
func Prefixed(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

// Logger is a thin prefix-bound wrapper over the global slog logger.
type Logger struct {
	prefix string
}

func (l *Logger) Debug(format string, args ...any) {
	slog.Debug(fmt.Sprintf("%s - %s", l.prefix, fmt.Sprintf(format, args...)))
}

func (l *Logger) Info(format string, args ...any) {
	slog.Info(fmt.Sprintf("%s - %s", l.prefix, fmt.Sprintf(format, args...)))
}

func (l *Logger) Warn(format string, args ...any) {
	slog.Warn(fmt.Sprintf("%s - %s", l.prefix, fmt.Sprintf(format, args...)))
}

func (l *Logger) Error(format string, args ...any) {
	slog.Error(fmt.Sprintf("%s - %s", l.prefix, fmt.Sprintf(format, args...)))
}
