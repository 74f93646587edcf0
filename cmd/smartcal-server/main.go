package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"smartcal/internal/cli"
	apphttp "smartcal/internal/http"
	"smartcal/internal/log"
	"smartcal/internal/middleware/ratelimit"
	"smartcal/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "smartcal-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	logger := cli.SetupLogger(cfg, os.Stdout)

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	app, err := cli.OpenApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("Failed to close settings storage", log.FieldError, err)
		}
	}()

	srv := apphttp.NewServer(app.Client, apphttp.Options{
		Addr:           cfg.HTTPAddr,
		MonthCacheTTL:  cfg.MonthCacheTTL,
		MonthCacheSize: cfg.MonthCacheSize,
		LoginRateLimit: ratelimit.DefaultConfig(),
	}, logger)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	refresher := worker.NewAnnouncementRefresher(
		app.Client, app.Client.Settings(), cfg.AnnouncementsRefreshCron, app.Client.Location(), logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting smartcal server",
			log.FieldOperation, log.OpStartup,
			"addr", cfg.HTTPAddr,
			"storage_primary", cfg.StoragePrimary,
			"storage_fallback", cfg.StorageFallback)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return refresher.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
