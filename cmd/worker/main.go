// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/adiadia/demo-orchestrator/internal/app"
	"github.com/adiadia/demo-orchestrator/internal/config"
	"github.com/adiadia/demo-orchestrator/internal/logging"
	"github.com/adiadia/demo-orchestrator/internal/metrics"
)

// The worker runs only the expiry reaper, against the same database as
// an api started with REAPER_ENABLED=false.
func main() {
	if _, err := config.LoadDotenv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	logger := logging.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	metrics.Init()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	if !stores.Persistent() {
		return errors.New("worker requires DATABASE_URL; an in-memory lease is invisible to the api")
	}

	provider, closeProvider, err := app.NewProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("compute provider: %w", err)
	}
	defer closeProvider()

	auditLog := app.NewAuditTee(stores.Audit, cfg, logger)
	defer auditLog.Wait()

	logger.Info("worker started", "interval", cfg.ReaperInterval, "provider", cfg.ComputeProvider)
	return app.NewReaper(stores.Leases, provider, auditLog, cfg, logger).Run(ctx)
}
