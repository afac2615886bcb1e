// SPDX-License-Identifier: Apache-2.0

// Package reaper enforces lease expiry and drives the lease lifecycle
// forward from the provider's point of view.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/audit"
	"github.com/adiadia/demo-orchestrator/internal/compute"
	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/adiadia/demo-orchestrator/internal/lease"
	"github.com/adiadia/demo-orchestrator/internal/metrics"
)

const (
	DefaultInterval        = 30 * time.Second
	DefaultProviderTimeout = 2 * time.Minute
)

type Prober interface {
	Probe(ctx context.Context, address string, port int) error
}

type Deps struct {
	Leases          lease.Store
	Provider        compute.Provider
	Prober          Prober
	Audit           audit.Log
	Logger          *slog.Logger
	Interval        time.Duration
	ProviderTimeout time.Duration
	Now             func() time.Time
}

type Reaper struct {
	leases          lease.Store
	provider        compute.Provider
	prober          Prober
	audit           audit.Log
	logger          *slog.Logger
	interval        time.Duration
	providerTimeout time.Duration
	now             func() time.Time
}

func New(deps Deps) *Reaper {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	timeout := deps.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Reaper{
		leases:          deps.Leases,
		provider:        deps.Provider,
		prober:          deps.Prober,
		audit:           deps.Audit,
		logger:          l,
		interval:        interval,
		providerTimeout: timeout,
		now:             now,
	}
}

// Run ticks until ctx is cancelled. The first tick runs immediately so a
// restarted process picks up leases left behind by its predecessor.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil {
			r.logger.Error("reaper tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick inspects the current lease once. Errors leave the lease as it was so
// the next tick retries.
func (r *Reaper) Tick(ctx context.Context) error {
	l, ok, err := r.leases.Current(ctx)
	if err != nil {
		metrics.IncReaperTickErrors()
		return fmt.Errorf("read current lease: %w", err)
	}
	metrics.SetActiveLease(ok)
	if !ok {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	defer cancel()

	now := r.now()
	staleAfter := 2 * r.providerTimeout
	logger := r.logger.With("lease_id", l.ID, "project_id", l.ProjectID, "status", l.Status)

	switch {
	case l.Status == domain.LeaseStopping:
		if now.Sub(l.UpdatedAt) <= staleAfter {
			return nil
		}
		err = r.resumeTeardown(pctx, l, logger)

	case l.Expired(now):
		err = r.expire(pctx, l, logger)

	case l.Placeholder():
		if now.Sub(l.UpdatedAt) <= staleAfter {
			return nil
		}
		if _, removed, rerr := r.leases.Remove(pctx, l.ID); rerr != nil {
			err = fmt.Errorf("remove abandoned placeholder: %w", rerr)
		} else if removed {
			metrics.SetActiveLease(false)
			logger.Warn("abandoned placeholder removed", "age", now.Sub(l.UpdatedAt))
		}

	case l.Status == domain.LeaseStarting || l.Status == domain.LeaseRunning:
		err = r.observe(pctx, l, logger)
	}

	if err != nil {
		metrics.IncReaperTickErrors()
		return err
	}
	return nil
}

func (r *Reaper) expire(ctx context.Context, l domain.Lease, logger *slog.Logger) error {
	stopped, err := lease.Stop(ctx, r.leases, r.provider, l)
	if err != nil {
		return fmt.Errorf("expire lease %s: %w", l.ID, err)
	}
	if !stopped {
		return nil
	}

	logger.Info("lease expired", "expires_at", l.ExpiresAt)
	r.record(ctx, l, domain.OutcomeExpired, "lifetime reached")
	return nil
}

// resumeTeardown finishes a stop that a crashed process left half done.
func (r *Reaper) resumeTeardown(ctx context.Context, l domain.Lease, logger *slog.Logger) error {
	if err := lease.Teardown(ctx, r.leases, r.provider, l); err != nil {
		return fmt.Errorf("resume teardown of lease %s: %w", l.ID, err)
	}

	logger.Warn("stale teardown completed", "stuck_since", l.UpdatedAt)
	outcome := domain.OutcomeTerminated
	if l.Expired(r.now()) {
		outcome = domain.OutcomeExpired
	}
	r.record(ctx, l, outcome, "teardown resumed")
	return nil
}

// observe promotes a starting lease once the instance is up and answering,
// and marks leases whose instance the provider reports as gone or failed.
func (r *Reaper) observe(ctx context.Context, l domain.Lease, logger *slog.Logger) error {
	st, err := r.provider.Status(ctx, l.ProviderHandle)
	if err != nil {
		return fmt.Errorf("instance status for lease %s: %w", l.ID, err)
	}

	if st.Failed {
		if _, err := r.leases.TransitionStatus(ctx, l.ID, []domain.LeaseStatus{l.Status}, domain.LeaseError); err != nil {
			return r.ignoreRace(err, "mark lease failed")
		}
		metrics.IncLeaseTransition(domain.LeaseError)
		logger.Warn("instance failed", "detail", st.Detail)
		return nil
	}

	if l.Status != domain.LeaseStarting || !st.Ready {
		return nil
	}
	if r.prober != nil {
		if err := r.prober.Probe(ctx, l.Address, l.Port); err != nil {
			logger.Debug("instance not answering yet", "error", err)
			return nil
		}
	}

	if _, err := r.leases.TransitionStatus(ctx, l.ID, []domain.LeaseStatus{domain.LeaseStarting}, domain.LeaseRunning); err != nil {
		return r.ignoreRace(err, "mark lease running")
	}
	metrics.IncLeaseTransition(domain.LeaseRunning)
	logger.Info("instance running", "address", l.Address, "port", l.Port)
	return nil
}

// ignoreRace drops CAS failures caused by a concurrent terminate or
// replacement; the next tick sees the new state.
func (r *Reaper) ignoreRace(err error, op string) error {
	if errors.Is(err, lease.ErrNotFound) || errors.Is(err, lease.ErrStatusConflict) {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (r *Reaper) record(ctx context.Context, l domain.Lease, outcome domain.AuditOutcome, detail string) {
	if r.audit == nil {
		return
	}
	if _, err := r.audit.Append(ctx, domain.AuditRecord{
		ProjectID: l.ProjectID,
		Outcome:   outcome,
		Detail:    detail,
	}); err != nil {
		r.logger.Error("audit append failed", "outcome", outcome, "lease_id", l.ID, "error", err)
	}
}
