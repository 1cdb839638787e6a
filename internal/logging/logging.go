// Package logging provides structured logging for the refresher.
//
// It wraps log/slog with a process-wide logger, component loggers and
// context-scoped attributes.
//
// Usage:
//
//	logging.Init(slog.LevelInfo, false) // text on stderr
//	log := logging.Component("refresh")
//	log.Info("refresh finished", "owner", owner, "created", n)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance. Nil until Init is called, in which
// case slog.Default() is used.
var Logger *slog.Logger

// Init initializes the global logger on stderr with the given level and format.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stderr, level, jsonFormat)
}

// InitWriter initializes the global logger on w.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps debug, info, warn and error (any case) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func base() *slog.Logger {
	if Logger == nil {
		return slog.Default()
	}
	return Logger
}

// Component returns a logger tagged with component=name.
func Component(name string) *slog.Logger {
	return base().With("component", name)
}

type contextKey int

const (
	contextKeyOwner contextKey = iota
	contextKeyRefreshID
)

// ContextWithOwner adds an owner key to the context for logging.
func ContextWithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, contextKeyOwner, owner)
}

// ContextWithRefreshID adds a refresh ID to the context for logging.
func ContextWithRefreshID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRefreshID, id)
}

// FromContext returns logger with the owner and refresh ID carried by ctx.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = base()
	}
	if owner, ok := ctx.Value(contextKeyOwner).(string); ok {
		logger = logger.With("owner", owner)
	}
	if id, ok := ctx.Value(contextKeyRefreshID).(string); ok {
		logger = logger.With("refresh_id", id)
	}
	return logger
}
