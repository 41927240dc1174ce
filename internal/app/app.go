// Package app provides the top-level application lifecycle management for
// the Hive orchestrator. It wires together every component (persistence,
// market data, exchange connector, gateway, scheduler, close protocol,
// control plane) and runs them as a supervised goroutine group until the
// context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hivebot/hive/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// the cleanup function Wire returned.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg: cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies and starts every component as a supervised
// goroutine, via golang.org/x/sync/errgroup so the first failure cancels the
// rest. It blocks until ctx is cancelled or a
// component returns an error.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("network", a.cfg.Network),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("monitor", a.cfg.Monitor),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Gateway.Run(ctx)
	})

	g.Go(func() error {
		return deps.Sched.Run(ctx)
	})

	g.Go(func() error {
		return deps.Heartbeat.Run(ctx)
	})

	if deps.WSHub != nil {
		g.Go(func() error {
			err := deps.WSHub.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	if deps.Server != nil {
		g.Go(func() error {
			a.logger.InfoContext(ctx, "control plane listening", slog.Int("port", a.cfg.Server.Port))
			if err := deps.Server.Start(); err != nil {
				return fmt.Errorf("app: server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return deps.Server.Shutdown(shutCtx)
		})
	}

	err = g.Wait()
	if err != nil && err != context.Canceled {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Close tears down every resource Wire constructed. Safe to call multiple
// times; subsequent calls are no-ops.
func (a *App) Close() {
	if a.cleanup == nil {
		return
	}
	a.logger.Info("shutting down application")
	a.cleanup()
	a.cleanup = nil
}
