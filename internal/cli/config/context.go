package config

import (
	"context"
	"log/slog"
	"sync"
)

var (
	currentMu  sync.RWMutex
	currentCfg *Config
)

// SetCurrent stores the configuration loaded by the root command so
// subcommands can reach it without threading it through every call.
func SetCurrent(cfg *Config) {
	currentMu.Lock()
	defer currentMu.Unlock()
	currentCfg = cfg
}

// Current returns the active configuration, or nil before Load ran.
func Current() *Config {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return currentCfg
}

type loggerKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the context, falling back to a
// discard logger.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}
