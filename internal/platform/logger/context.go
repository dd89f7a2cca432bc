package logger

import (
	"context"
	"log/slog"
)

// contextKey is an unexported type to avoid collisions with other packages'
// context keys.
type contextKey struct{}

var loggerKey = contextKey{}

// WithLogger returns a copy of ctx carrying the given logger.
// Request-scoped attributes (trace IDs, task IDs) should be attached to the
// logger before storing it so downstream log lines carry them automatically.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or the process-wide default
// logger when none has been attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// FromContextOrDefault returns the logger stored in ctx, falling back to the
// provided default rather than the global one.
func FromContextOrDefault(ctx context.Context, def *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	if def != nil {
		return def
	}
	return slog.Default()
}
