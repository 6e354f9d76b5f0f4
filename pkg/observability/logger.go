package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type Logger struct {
	*slog.Logger
}

// NewLogger returns a JSON logger writing to stdout at info level.
func NewLogger(serviceName string) *Logger {
	return NewLoggerWithLevel(serviceName, "info")
}

// NewLoggerWithLevel is NewLogger with an explicit level name (debug, info, warn, error).
func NewLoggerWithLevel(serviceName, level string) *Logger {
	return newLogger(os.Stdout, serviceName, ParseLevel(level))
}

// NewNopLogger discards everything. Used as the default when no logger is injected.
func NewNopLogger() *Logger {
	return &Logger{slog.New(slog.DiscardHandler)}
}

func newLogger(w io.Writer, serviceName string, level slog.Level) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return &Logger{slog.New(handler).With("service", serviceName)}
}

// ParseLevel maps a level name to a slog.Level, falling back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext adds trace_id and span_id when ctx carries a sampled span.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}

	return &Logger{l.Logger.With(
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)}
}

// With returns a child logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}
