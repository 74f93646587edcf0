// Package cli holds the start-up steps shared by cmd/smartcal and
// cmd/smartcal-server.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"smartcal/internal/backend"
	"smartcal/internal/client"
	"smartcal/internal/config"
	"smartcal/internal/log"
	"smartcal/internal/settings"
)

// SetupLogger builds the process logger from the config and makes it the
// slog default.
func SetupLogger(cfg *config.Config, out io.Writer) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentApp,
		Output:    out,
	})
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig reads .env and the environment and checks the result.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App is a configured client plus the storage it owns.
type App struct {
	Config *config.Config
	Client *client.Client
	Logger *log.Logger

	cleanup backend.CleanupFunc
}

// Close releases the storage backends.
func (a *App) Close() error {
	if a.cleanup == nil {
		return nil
	}
	return a.cleanup()
}

// OpenApp opens the configured storage chain and builds a client on top of it.
func OpenApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("open settings storage: %w", err)
	}

	clientCfg, err := client.ConfigFromApp(cfg)
	if err != nil {
		_ = res.Cleanup()
		return nil, err
	}

	store := settings.NewStore(res.Storage, cfg.SettingsKey, logger)
	return &App{
		Config:  cfg,
		Client:  client.New(clientCfg, store, logger),
		Logger:  logger,
		cleanup: res.Cleanup,
	}, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
