// Package logger provides the structured logging facade used across
// monitord. It wraps log/slog so components depend on a narrow interface
// that tests can silence with an io.Discard writer.
package logger

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// LogLevel controls the minimum level a logger emits.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// Field is a typed key/value pair attached to a log record.
type Field = slog.Attr

// Logger is the logging interface consumed by all monitord components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger carrying the given fields on every record.
	With(fields ...Field) Logger
}

// Field constructors. Thin aliases over slog so call sites read as
// logger.String("device", name) rather than importing slog everywhere.

func String(key, value string) Field            { return slog.String(key, value) }
func Int(key string, value int) Field           { return slog.Int(key, value) }
func Int64(key string, value int64) Field       { return slog.Int64(key, value) }
func Uint64(key string, value uint64) Field     { return slog.Uint64(key, value) }
func Float64(key string, value float64) Field   { return slog.Float64(key, value) }
func Bool(key string, value bool) Field         { return slog.Bool(key, value) }
func Duration(key string, value time.Duration) Field {
	return slog.Duration(key, value)
}
func Time(key string, value time.Time) Field { return slog.Time(key, value) }
func Any(key string, value any) Field        { return slog.Any(key, value) }

// Error wraps an error under the conventional "error" key.
// A nil error logs as the empty string.
func Error(err error) Field {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// slogLogger adapts *slog.Logger to the Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger creates a Logger writing JSON records to w at the given
// minimum level. The optional attrs are attached to every record.
func NewSlogLogger(w io.Writer, level LogLevel, attrs []slog.Attr) Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel(level)})
	l := slog.New(handler)
	if len(attrs) > 0 {
		args := make([]any, 0, len(attrs))
		for _, a := range attrs {
			args = append(args, a)
		}
		l = l.With(args...)
	}
	return &slogLogger{l: l}
}

func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a config string to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (s *slogLogger) Debug(msg string, fields ...Field) { s.log(slog.LevelDebug, msg, fields) }
func (s *slogLogger) Info(msg string, fields ...Field)  { s.log(slog.LevelInfo, msg, fields) }
func (s *slogLogger) Warn(msg string, fields ...Field)  { s.log(slog.LevelWarn, msg, fields) }
func (s *slogLogger) Error(msg string, fields ...Field) { s.log(slog.LevelError, msg, fields) }

func (s *slogLogger) With(fields ...Field) Logger {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	return &slogLogger{l: s.l.With(args...)}
}

func (s *slogLogger) log(level slog.Level, msg string, fields []Field) {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	s.l.Log(context.Background(), level, msg, args...)
}
