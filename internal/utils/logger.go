package utils

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LogLevel represents different log levels
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Logger wraps zerolog.Logger behind a four-level API (Debug/Info/Warn/Error
// with printf-style formatting) so call sites never touch zerolog's
// builder-chain API directly.
type Logger struct {
	level LogLevel
	zl    zerolog.Logger
}

// NewLogger creates a new logger with the specified level ("debug", "info",
// "warn", "error") and format ("text" or "json").
func NewLogger(level, format string) *Logger {
	logLevel := parseLogLevel(level)

	var w io.Writer = os.Stdout
	if strings.ToLower(format) != "json" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
	}

	zl := zerolog.New(w).With().Timestamp().Logger().Level(toZerologLevel(logLevel))

	return &Logger{level: logLevel, zl: zl}
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func toZerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}
