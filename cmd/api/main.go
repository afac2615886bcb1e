// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/admission"
	"github.com/adiadia/demo-orchestrator/internal/app"
	"github.com/adiadia/demo-orchestrator/internal/catalog"
	"github.com/adiadia/demo-orchestrator/internal/config"
	"github.com/adiadia/demo-orchestrator/internal/logging"
	"github.com/adiadia/demo-orchestrator/internal/metrics"
	"github.com/adiadia/demo-orchestrator/internal/status"
	httptransport "github.com/adiadia/demo-orchestrator/internal/transport/http"
	"github.com/adiadia/demo-orchestrator/internal/verifier"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

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
		logger.Error("api exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	metrics.Init()

	if strings.TrimSpace(cfg.RecaptchaSecretKey) == "" {
		return errors.New("RECAPTCHA_SECRET_KEY is required")
	}

	projects, err := catalog.LoadOrDefault(cfg.ProjectsFile)
	if err != nil {
		return fmt.Errorf("load project catalog: %w", err)
	}
	logger.Info("project catalog loaded", "projects", projects.Len(), "file", cfg.ProjectsFile)

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := app.RequireReaper(stores, cfg.ReaperEnabled); err != nil {
		return err
	}

	limiter, closeLimiter, err := app.NewLimiter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	provider, closeProvider, err := app.NewProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("compute provider: %w", err)
	}
	defer closeProvider()

	auditLog := app.NewAuditTee(stores.Audit, cfg, logger)
	defer auditLog.Wait()

	gateway := verifier.NewGateway(
		verifier.NewRecaptchaClient(cfg.RecaptchaSecretKey, nil),
		cfg.RecaptchaMinScore,
		cfg.VerifyTimeout,
		logger,
	)

	controller := admission.New(admission.Deps{
		Limiter:         limiter,
		Verifier:        gateway,
		Leases:          stores.Leases,
		Provider:        provider,
		Audit:           auditLog,
		Catalog:         projects,
		Secrets:         catalog.Secrets{Dir: cfg.ProjectSecretsDir},
		Logger:          logger,
		Lifetime:        cfg.InstanceLifetime,
		ProviderTimeout: cfg.ProviderTimeout,
	})

	handler := httptransport.NewRouter(httptransport.Deps{
		Deployer:           controller,
		Status:             status.New(stores.Leases, limiter, projects),
		Audit:              auditLog,
		Logger:             logger,
		AdminToken:         cfg.AdminToken,
		RecaptchaSiteKey:   cfg.RecaptchaSiteKey,
		RequestsPerMinute:  cfg.RequestsPerMinute,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
		StatusPushInterval: cfg.StatusPushInterval,
		AllowedOrigins:     cfg.AllowedOrigins,
		Version:            Version,
		Commit:             Commit,
		BuildDate:          BuildDate,
		Readiness:          stores.Readiness,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		return nil
	})

	if cfg.ReaperEnabled {
		rp := app.NewReaper(stores.Leases, provider, auditLog, cfg, logger)
		g.Go(func() error {
			return rp.Run(gctx)
		})
	} else {
		logger.Info("in-process reaper disabled; cmd/worker must run against the same database")
	}

	return g.Wait()
}
