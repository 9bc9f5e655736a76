// Package logger provides the structured logging interface used across the
// service. It is a thin layer over log/slog with typed field constructors so
// call sites never pass loosely typed key/value pairs.
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Log levels accepted by NewSlogLogger and ParseLevel.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Field is a single structured log attribute.
type Field = slog.Attr

// Logger is the logging interface passed to every component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that always adds the given fields.
	With(fields ...Field) Logger
	// Module returns a child logger tagged with the component name.
	Module(name string) Logger
}

// Options tunes the slog handler built by NewSlogLogger.
type Options struct {
	// JSON selects the JSON handler instead of the text handler.
	JSON bool
	// AddSource includes file:line of the call site.
	AddSource bool
}

type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger creates a Logger writing to w at the given level. A nil tz
// keeps timestamps in local time.
func NewSlogLogger(w io.Writer, level string, tz *time.Location, opts ...Options) Logger {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: o.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && tz != nil {
				a.Value = slog.TimeValue(a.Value.Time().In(tz))
			}
			return a
		},
	}

	var h slog.Handler
	if o.JSON {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}
	return &slogLogger{l: slog.New(h)}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return NewSlogLogger(io.Discard, LogLevelError, nil)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn, "warning":
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *slogLogger) log(level slog.Level, msg string, fields []Field) {
	s.l.LogAttrs(context.Background(), level, msg, fields...)
}

func (s *slogLogger) Debug(msg string, fields ...Field) { s.log(slog.LevelDebug, msg, fields) }
func (s *slogLogger) Info(msg string, fields ...Field)  { s.log(slog.LevelInfo, msg, fields) }
func (s *slogLogger) Warn(msg string, fields ...Field)  { s.log(slog.LevelWarn, msg, fields) }
func (s *slogLogger) Error(msg string, fields ...Field) { s.log(slog.LevelError, msg, fields) }

func (s *slogLogger) With(fields ...Field) Logger {
	args := make([]any, len(fields))
	for i := range fields {
		args[i] = fields[i]
	}
	return &slogLogger{l: s.l.With(args...)}
}

func (s *slogLogger) Module(name string) Logger {
	return s.With(String("module", name))
}

// String creates a string field.
func String(key, value string) Field { return slog.String(key, value) }

// Int creates an int field.
func Int(key string, value int) Field { return slog.Int(key, value) }

// Int64 creates an int64 field.
func Int64(key string, value int64) Field { return slog.Int64(key, value) }

// Uint64 creates a uint64 field.
func Uint64(key string, value uint64) Field { return slog.Uint64(key, value) }

// Bool creates a bool field.
func Bool(key string, value bool) Field { return slog.Bool(key, value) }

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field { return slog.Duration(key, value) }

// Any creates a field from an arbitrary value.
func Any(key string, value any) Field { return slog.Any(key, value) }

// Error creates an "error" field. A nil error yields an empty string value.
func Error(err error) Field {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
