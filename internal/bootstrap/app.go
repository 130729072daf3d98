// Package bootstrap turns a configuration file into a running node and
// owns its signal-driven lifecycle
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"trade_engine/internal/core"
	"trade_engine/internal/infrastructure/health"
	"trade_engine/pkg/logging"
)

// App holds the configuration, logger and health registry shared by every
// component of a node
type App struct {
	Cfg    *Config
	Logger core.ILogger
	Health *health.Manager

	zap *logging.ZapLogger
}

// NewApp loads configPath and initializes logging
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return NewAppFromConfig(cfg)
}

// NewAppFromConfig builds an App around an already validated config
func NewAppFromConfig(cfg *Config) (*App, error) {
	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return &App{
		Cfg:    cfg,
		Logger: logger,
		Health: health.NewManager(logger),
		zap:    logger,
	}, nil
}

// Runner is a component that runs until ctx is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// ServiceRunner runs svc between Start and ctx cancellation
func ServiceRunner(svc core.IService) Runner {
	return RunnerFunc(func(ctx context.Context) error {
		if err := svc.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		svc.Stop()
		return nil
	})
}

// Run runs every runner until SIGINT or SIGTERM, or until one fails
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, runners...)
}

// RunContext is Run with the caller's context in place of signal handling
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "name", a.Cfg.App.Name, "role", a.Cfg.App.Role)
	for _, r := range runners {
		r := r
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	err := g.Wait()
	if a.zap != nil {
		_ = a.zap.Sync()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}
