// Package app owns the top-level application lifecycle. It wires stores,
// caches, platform clients, and services together and runs the loops the
// configured operating mode calls for.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solwatch/copybot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// the cleanup functions registered during wiring, called in reverse order on
// shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the loops for the configured mode, and
// blocks until the context is cancelled. Cleanup runs on return.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting copybot",
		slog.String("mode", a.cfg.Mode),
		slog.Bool("simulated", a.cfg.Trade.Simulated),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	defer a.Close()

	switch strings.ToLower(a.cfg.Mode) {
	case "trade":
		return a.runMode(ctx, deps, true, false)
	case "monitor":
		return a.runMode(ctx, deps, false, true)
	case "full":
		return a.runMode(ctx, deps, true, true)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
