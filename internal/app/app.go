// SPDX-License-Identifier: Apache-2.0

// Package app builds the stores, limiter and compute provider that the api
// and worker binaries share, choosing backends from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/audit"
	"github.com/adiadia/demo-orchestrator/internal/compute"
	"github.com/adiadia/demo-orchestrator/internal/compute/docker"
	"github.com/adiadia/demo-orchestrator/internal/compute/gce"
	"github.com/adiadia/demo-orchestrator/internal/config"
	"github.com/adiadia/demo-orchestrator/internal/lease"
	"github.com/adiadia/demo-orchestrator/internal/notify"
	"github.com/adiadia/demo-orchestrator/internal/persistence/postgres"
	"github.com/adiadia/demo-orchestrator/internal/ratelimit"
	"github.com/adiadia/demo-orchestrator/internal/reaper"
	"github.com/adiadia/demo-orchestrator/internal/repository"
)

var (
	ErrUnknownProvider = errors.New("unknown compute provider")
	ErrNoReaper        = errors.New("no reaper can reach the lease")
)

type HealthChecker interface {
	Check(ctx context.Context) error
}

// Stores holds the lease slot and audit log. Readiness is nil for the
// in-memory backend.
type Stores struct {
	Leases    lease.Store
	Audit     audit.Log
	Readiness HealthChecker
	Close     func()
}

// Persistent reports whether the stores survive a restart and can be
// shared with a separate worker process.
func (s Stores) Persistent() bool {
	return s.Readiness != nil
}

// OpenStores uses Postgres when DATABASE_URL is set and process memory
// otherwise.
func OpenStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (Stores, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set; lease and audit state are in memory")
		return Stores{
			Leases: lease.NewMemoryStore(),
			Audit:  audit.NewMemoryLog(),
			Close:  func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return Stores{}, fmt.Errorf("db connect: %w", err)
	}

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, cfg.DatabaseURL, logger); err != nil {
			pool.Close()
			return Stores{}, fmt.Errorf("schema bootstrap: %w", err)
		}
	} else if err := postgres.SchemaReady(ctx, pool); err != nil {
		pool.Close()
		return Stores{}, fmt.Errorf("schema check: %w", err)
	}

	return Stores{
		Leases:    repository.NewLeaseRepository(pool, logger),
		Audit:     repository.NewAuditRepository(pool, logger),
		Readiness: postgres.NewSchemaHealthChecker(pool),
		Close:     pool.Close,
	}, nil
}

// RequireReaper rejects a process layout where nothing would ever expire the
// lease: an in-memory store is only visible to the in-process reaper.
func RequireReaper(stores Stores, reaperEnabled bool) error {
	if reaperEnabled || stores.Persistent() {
		return nil
	}
	return fmt.Errorf("%w: REAPER_ENABLED=false requires DATABASE_URL and a separate worker", ErrNoReaper)
}

func RateLimitPolicy(cfg config.Config) ratelimit.Policy {
	return ratelimit.Policy{
		Global:    ratelimit.Window{Limit: cfg.GlobalDeployLimit, Length: cfg.GlobalDeployWindow},
		PerOrigin: ratelimit.Window{Limit: cfg.OriginDeployLimit, Length: cfg.OriginDeployWindow},
	}
}

// NewLimiter uses Redis when REDIS_ADDR is set so every replica shares one
// window.
func NewLimiter(cfg config.Config, logger *slog.Logger) (ratelimit.Limiter, func(), error) {
	policy := RateLimitPolicy(cfg)
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return ratelimit.NewMemoryLimiter(policy), func() {}, nil
	}

	limiter, err := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, policy, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("redis limiter: %w", err)
	}
	logger.Info("rate limiter backed by redis", "addr", cfg.RedisAddr)
	return limiter, func() { _ = limiter.Close() }, nil
}

// NewProvider builds the configured compute provider wrapped with call
// metrics.
func NewProvider(ctx context.Context, cfg config.Config, logger *slog.Logger) (compute.Provider, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ComputeProvider)) {
	case "docker", "":
		p, err := docker.New(ctx, docker.Options{
			PublicHost: cfg.DockerPublicHost,
			BaseImage:  cfg.DockerBaseImage,
		}, logger.With("provider", "docker"))
		if err != nil {
			return nil, nil, err
		}
		return compute.Instrument(p), func() { _ = p.Close() }, nil

	case "gce":
		p, err := gce.New(gce.Options{
			ProjectID:   cfg.GCPProjectID,
			Zone:        cfg.GCPZone,
			MachineType: cfg.GCPMachineType,
		}, logger.With("provider", "gce"))
		if err != nil {
			return nil, nil, err
		}
		return compute.Instrument(p), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.ComputeProvider)
	}
}

// NewAuditTee stores records in log and, when a webhook URL is configured,
// also posts each record to it.
func NewAuditTee(log audit.Log, cfg config.Config, logger *slog.Logger) *audit.Tee {
	var sinks []audit.Sink
	if url := strings.TrimSpace(cfg.NotifyWebhookURL); url != "" {
		sinks = append(sinks, notify.NewWebhook(url, cfg.NotifyWebhookSecret, logger))
	}
	return audit.NewTee(log, logger, sinks...)
}

const probeTimeout = 5 * time.Second

func NewReaper(leases lease.Store, provider compute.Provider, log audit.Log, cfg config.Config, logger *slog.Logger) *reaper.Reaper {
	return reaper.New(reaper.Deps{
		Leases:          leases,
		Provider:        provider,
		Prober:          compute.NewProber(probeTimeout),
		Audit:           log,
		Logger:          logger.With("component", "reaper"),
		Interval:        cfg.ReaperInterval,
		ProviderTimeout: cfg.ProviderTimeout,
	})
}
