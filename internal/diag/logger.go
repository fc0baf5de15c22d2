// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diag

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// CATEGORIES
// =============================================================================

// Category identifies the subsystem a log entry belongs to.
type Category string

const (
	CategorySession   Category = "session"
	CategoryStream    Category = "stream"
	CategoryRegistry  Category = "registry"
	CategoryRouter    Category = "router"
	CategoryDiscovery Category = "discovery"
	CategoryProvider  Category = "provider"
	CategoryStore     Category = "store"
)

// =============================================================================
// LOGGER
// =============================================================================

// Logger wraps a zap logger with a category field per subsystem.
type Logger struct {
	zl *zap.Logger
}

// New creates a file-backed logger writing JSON lines under dir. When dir is
// empty the logger writes to stderr.
func New(dir string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = []string{filepath.Join(dir, "backchat.log")}
		cfg.ErrorOutputPaths = cfg.OutputPaths
	}

	zl, err := cfg.Build(zap.WithCaller(false))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return &Logger{zl: zl}, nil
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{zl: zap.NewNop()}
}

// For returns a child logger tagged with the given category.
func (l *Logger) For(cat Category) *zap.Logger {
	return l.zl.With(zap.String("category", string(cat)))
}

// Sync flushes buffered entries. Safe to call on shutdown.
func (l *Logger) Sync() {
	_ = l.zl.Sync()
}

// =============================================================================
// DISPATCH TRACE
// =============================================================================

// LogDispatch records an outbound provider request: kind ("chat" or
// "discovery"), provider, model, and turn id. Message content is never
// logged.
func (l *Logger) LogDispatch(kind, provider, modelID, turnID string) {
	l.For(CategoryProvider).Info("dispatch",
		zap.String("kind", kind),
		zap.String("provider", provider),
		zap.String("model", modelID),
		zap.String("turn_id", turnID),
	)
}
