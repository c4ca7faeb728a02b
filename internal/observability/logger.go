// Package observability provides structured logging and the metrics sink
// for the ensemble: per-sub-task samples, consensus outcomes, and named
// counters, collected off the event bus without blocking the orchestrator.
package observability

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog with a persistent component field.
type Logger struct {
	inner     *slog.Logger
	component string
}

// NewLogger creates a JSON structured logger for a component.
// Output defaults to os.Stderr if w is nil.
func NewLogger(component string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &Logger{inner: slog.New(handler), component: component}
}

// NewLoggerWithHandler creates a logger with a custom slog handler.
func NewLoggerWithHandler(component string, h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h), component: component}
}

// With returns a child logger with an additional persistent field.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{inner: l.inner.With(slog.Any(key, value)), component: l.component}
}

// Component returns a child logger for a sub-component.
func (l *Logger) Component(name string) *Logger {
	return &Logger{inner: l.inner, component: name}
}

func (l *Logger) attrs(args []any) []any {
	return append([]any{slog.String("component", l.component)}, args...)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, l.attrs(args)...) }

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, l.attrs(args)...) }

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, l.attrs(args)...) }

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, l.attrs(args)...) }
