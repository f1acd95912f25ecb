package logger

import (
	"context"
	"sync"
)

// LoggerContext accumulates attributes over the course of an operation so
// that later log lines carry everything learned so far.
type LoggerContext struct {
	logger *Logger

	mu    sync.Mutex
	attrs []any
}

// NewLoggerContext wraps the logger with an empty attribute set.
func NewLoggerContext(logger *Logger) *LoggerContext {
	return &LoggerContext{logger: logger}
}

// Add appends key/value pairs to the accumulated attributes.
func (lc *LoggerContext) Add(args ...any) {
	lc.mu.Lock()
	lc.attrs = append(lc.attrs, args...)
	lc.mu.Unlock()
}

func (lc *LoggerContext) merged(args []any) []any {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	out := make([]any, 0, len(lc.attrs)+len(args))
	out = append(out, lc.attrs...)
	return append(out, args...)
}

// Debug logs at LevelDebug including the accumulated attributes.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelDebug, 3, msg, lc.merged(args)...)
}

// Info logs at LevelInfo including the accumulated attributes.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelInfo, 3, msg, lc.merged(args)...)
}

// Warn logs at LevelWarn including the accumulated attributes.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelWarn, 3, msg, lc.merged(args)...)
}

// Error logs at LevelError including the accumulated attributes.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.logger.write(ctx, LevelError, 3, msg, lc.merged(args)...)
}
