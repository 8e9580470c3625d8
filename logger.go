package pagechain

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/pagechain/segment"
)

// Logger wraps slog.Logger with pagechain-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// WithSegment adds the segment name to the logger.
func (l *Logger) WithSegment(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", name),
	}
}

// LogOpen logs a segment open.
func (l *Logger) LogOpen(ctx context.Context, name string, pages uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "open failed",
			"segment", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "segment opened",
			"segment", name,
			"pages", pages,
		)
	}
}

// LogWalk logs a completed traversal.
func (l *Logger) LogWalk(ctx context.Context, after, end segment.PageID, res WalkResult, err error) {
	if err != nil {
		l.ErrorContext(ctx, "walk failed",
			"after", after,
			"end", end,
			"entries", res.Entries,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "walk completed",
			"after", after,
			"end", end,
			"entries", res.Entries,
			"sync_fetches", res.SyncFetches,
			"duration", res.Duration.Round(time.Microsecond),
		)
	}
}
