// Package app is the composition root: it turns a loaded config into
// wired services and runs them.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"marlin/internal/backtest"
	"marlin/internal/config"
	"marlin/internal/config/loader"
	"marlin/internal/live"
	"marlin/internal/logger"
	backtesthttp "marlin/internal/transport/http/backtest"
)

type App struct {
	cfg    *config.Config
	params *loader.ParamsLoader

	candles *backtest.Store
	runs    *backtest.RunStore
	svc     *backtest.Service
	runner  *backtest.Runner
	server  *backtesthttp.Server
	live    *live.Engine
}

// New builds the full application from config without starting
// anything.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	params, err := loader.NewParamsLoader(cfg.Strategies.ParamsPath)
	if err != nil {
		return nil, fmt.Errorf("loading strategy params failed: %w", err)
	}

	a := &App{cfg: cfg, params: params}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Run serves HTTP and, when enabled, the live engine, until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.svc.SetContext(ctx)
	a.runner.SetContext(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.live != nil {
		group.Go(func() error {
			if err := a.live.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("live engine: %w", err)
			}
			return nil
		})
	}
	return group.Wait()
}

// Runner exposes the replay runner for the CLI entrypoints.
func (a *App) Runner() *backtest.Runner { return a.runner }

// Service exposes the data service for the CLI entrypoints.
func (a *App) Service() *backtest.Service { return a.svc }

// Runs exposes the run store for the CLI entrypoints.
func (a *App) Runs() *backtest.RunStore { return a.runs }

func (a *App) Close() {
	if a.candles != nil {
		_ = a.candles.Close()
	}
	if a.runs != nil {
		_ = a.runs.Close()
	}
}
