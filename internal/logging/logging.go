// Package logging wires slog for the service: a configured root logger
// plus context plumbing so request-scoped fields follow the call chain.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type requestIDKey struct{}

type loggerKey struct{}

// New builds the root logger. Production runs json; text is for local work.
func New(level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		// Source locations are only worth the noise when debugging.
		AddSource: lvl == slog.LevelDebug,
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// ParseLevel maps a config string to a slog level. Unknown values fall
// back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// WithRequestID stores the request ID on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// WithLogger stores a logger on the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// L returns the context's logger, tagged with the request ID when one is
// set. Falls back to the process default.
func L(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	if !ok {
		logger = slog.Default()
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return logger.With("request_id", id)
	}
	return logger
}
