// SPDX-License-Identifier: Apache-2.0

// Package admission decides whether a deploy request may create the one
// demo instance, and tears instances down on request.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/audit"
	"github.com/adiadia/demo-orchestrator/internal/catalog"
	"github.com/adiadia/demo-orchestrator/internal/compute"
	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/adiadia/demo-orchestrator/internal/lease"
	"github.com/adiadia/demo-orchestrator/internal/metrics"
	"github.com/adiadia/demo-orchestrator/internal/ratelimit"
	"github.com/google/uuid"
)

const DefaultProviderTimeout = 2 * time.Minute

type Verifier interface {
	Verify(ctx context.Context, token, expectedAction string) (float64, error)
}

// EnvSource resolves the environment a project instance starts with.
type EnvSource interface {
	EnvFor(p domain.Project) (map[string]string, error)
}

type Deps struct {
	Limiter         ratelimit.Limiter
	Verifier        Verifier
	Leases          lease.Store
	Provider        compute.Provider
	Audit           audit.Log
	Catalog         *catalog.Catalog
	Secrets         EnvSource
	Logger          *slog.Logger
	Lifetime        time.Duration
	ProviderTimeout time.Duration
	Now             func() time.Time
}

type Controller struct {
	limiter         ratelimit.Limiter
	verifier        Verifier
	leases          lease.Store
	provider        compute.Provider
	audit           audit.Log
	catalog         *catalog.Catalog
	secrets         EnvSource
	logger          *slog.Logger
	lifetime        time.Duration
	providerTimeout time.Duration
	now             func() time.Time
}

func New(d Deps) *Controller {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Lifetime <= 0 {
		d.Lifetime = domain.DefaultLeaseLifetime
	}
	if d.ProviderTimeout <= 0 {
		d.ProviderTimeout = DefaultProviderTimeout
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Secrets == nil {
		d.Secrets = catalog.Secrets{}
	}
	return &Controller{
		limiter:         d.Limiter,
		verifier:        d.Verifier,
		leases:          d.Leases,
		provider:        d.Provider,
		audit:           d.Audit,
		catalog:         d.Catalog,
		secrets:         d.Secrets,
		logger:          d.Logger,
		lifetime:        d.Lifetime,
		providerTimeout: d.ProviderTimeout,
		now:             d.Now,
	}
}

// Deploy admits req and provisions its project. The steps run in a fixed
// order: rate limit, verification, replacement of any other instance,
// slot acquisition, provisioning. Every failure after the reservation
// releases it; every failure after slot acquisition frees the slot.
func (c *Controller) Deploy(ctx context.Context, req domain.DeploymentRequest) (domain.LeaseView, error) {
	project, ok := c.catalog.Get(req.ProjectID)
	if !ok {
		return domain.LeaseView{}, fmt.Errorf("%w: %q", domain.ErrUnknownProject, req.ProjectID)
	}
	logger := c.logger.With("project_id", project.ID, "origin", req.Origin)

	res, decision, err := c.limiter.TryReserve(ctx, req.Origin)
	if err != nil {
		return domain.LeaseView{}, err
	}
	if !decision.Allowed {
		metrics.IncRateLimitDenial(decision.Scope)
		metrics.IncDeployment("rate_limited")
		logger.Warn("security: deploy rate limited",
			"scope", decision.Scope,
			"limit", decision.Limit,
			"retry_after", decision.RetryAfter,
		)
		return domain.LeaseView{}, &domain.RateLimitedError{
			Scope:      decision.Scope,
			Limit:      decision.Limit,
			Remaining:  decision.Remaining,
			RetryAfter: decision.RetryAfter,
			ResetAt:    decision.ResetAt,
		}
	}

	if _, err := c.verifier.Verify(ctx, req.VerificationToken, domain.ActionDeploy); err != nil {
		c.release(res)
		metrics.IncDeployment("verification_failed")
		logger.Warn("security: deploy verification failed", "error", err)
		if !errors.Is(err, domain.ErrVerificationFailed) {
			err = &domain.VerificationError{Reason: "verifier error", Err: err}
		}
		return domain.LeaseView{}, err
	}

	// Provider calls must not be cut short by a client disconnect: a
	// half-finished create would leak an instance.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.providerTimeout)
	defer cancel()

	current, ok, err := c.leases.Current(pctx)
	if err != nil {
		c.release(res)
		return domain.LeaseView{}, fmt.Errorf("read current lease: %w", err)
	}
	if ok {
		switch {
		case current.ProjectID == project.ID && (current.Status == domain.LeaseStarting || current.Status == domain.LeaseRunning):
			c.release(res)
			metrics.IncDeployment("idempotent")
			logger.Info("deploy is idempotent", "lease_id", current.ID, "status", current.Status)
			return lease.View(current, project.Name, c.now()), nil

		case current.Status == domain.LeaseStopping || (current.Placeholder() && current.Status == domain.LeaseStarting):
			c.release(res)
			metrics.IncDeployment("conflict")
			return domain.LeaseView{}, &domain.ConflictError{ActiveProject: current.ProjectID}

		default:
			if err := c.replace(pctx, current, project, req); err != nil {
				c.release(res)
				metrics.IncDeployment("provision_failed")
				logger.Error("replace active instance failed", "lease_id", current.ID, "error", err)
				return domain.LeaseView{}, &domain.ProvisionError{ProjectID: project.ID, Err: err}
			}
		}
	}

	placeholder := lease.NewPlaceholder(project.ID, project.Port, c.now().UTC(), c.lifetime)
	existing, created, err := c.leases.CreateIfAbsent(pctx, placeholder)
	if err != nil {
		c.release(res)
		return domain.LeaseView{}, fmt.Errorf("acquire instance slot: %w", err)
	}
	if !created {
		c.release(res)
		if existing.ProjectID == project.ID && (existing.Status == domain.LeaseStarting || existing.Status == domain.LeaseRunning) {
			metrics.IncDeployment("idempotent")
			return lease.View(existing, project.Name, c.now()), nil
		}
		metrics.IncDeployment("conflict")
		return domain.LeaseView{}, &domain.ConflictError{ActiveProject: existing.ProjectID}
	}
	metrics.IncLeaseTransition(domain.LeaseStarting)
	metrics.SetActiveLease(true)
	logger = logger.With("lease_id", placeholder.ID)

	inst, err := c.provision(pctx, project)
	if err != nil {
		c.rollback(pctx, placeholder, res)
		metrics.IncDeployment("provision_failed")
		logger.Error("provision failed", "error", err)
		c.record(pctx, domain.AuditRecord{
			Requester: req.Requester,
			Origin:    req.Origin,
			ProjectID: project.ID,
			Outcome:   domain.OutcomeProvisionFailed,
			Detail:    err.Error(),
		})
		return domain.LeaseView{}, &domain.ProvisionError{ProjectID: project.ID, Err: err}
	}

	now := c.now().UTC()
	port := inst.Port
	if port <= 0 {
		port = project.Port
	}
	attached, err := c.leases.Attach(pctx, placeholder.ID, lease.Attachment{
		Address:   inst.Address,
		Port:      port,
		Handle:    inst.Handle,
		CreatedAt: now,
		ExpiresAt: now.Add(c.lifetime),
	})
	if err != nil {
		c.discard(pctx, inst, logger)
		c.release(res)
		if errors.Is(err, lease.ErrNotFound) || errors.Is(err, lease.ErrStatusConflict) {
			metrics.IncDeployment("conflict")
			logger.Warn("deploy cancelled while provisioning")
			return domain.LeaseView{}, fmt.Errorf("%w: deployment was terminated while provisioning", domain.ErrConflict)
		}
		c.removePlaceholder(pctx, placeholder.ID)
		return domain.LeaseView{}, fmt.Errorf("record instance: %w", err)
	}

	metrics.IncDeployment("success")
	logger.Info("instance deployed",
		"address", attached.Address,
		"port", attached.Port,
		"expires_at", attached.ExpiresAt,
	)
	c.record(pctx, domain.AuditRecord{
		Requester: req.Requester,
		Origin:    req.Origin,
		ProjectID: project.ID,
		Outcome:   domain.OutcomeSuccess,
		Detail:    compute.InstanceURL(attached.Address, attached.Port),
	})
	return lease.View(attached, project.Name, now), nil
}

// Terminate stops the active instance. ErrNotFound means there was nothing
// to stop.
func (c *Controller) Terminate(ctx context.Context, req domain.TerminationRequest) (domain.Lease, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.providerTimeout)
	defer cancel()

	current, ok, err := c.leases.Current(pctx)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("read current lease: %w", err)
	}
	if !ok || (req.ProjectID != "" && current.ProjectID != req.ProjectID) {
		return domain.Lease{}, domain.ErrNotFound
	}
	logger := c.logger.With("project_id", current.ProjectID, "lease_id", current.ID, "origin", req.Origin)

	if current.Placeholder() {
		// The in-flight deploy notices on Attach and tears down what it made.
		if _, removed, err := c.leases.Remove(pctx, current.ID); err != nil {
			return domain.Lease{}, fmt.Errorf("remove lease: %w", err)
		} else if !removed {
			return domain.Lease{}, domain.ErrNotFound
		}
		metrics.SetActiveLease(false)
		logger.Info("deploy cancelled during provisioning")
		c.record(pctx, domain.AuditRecord{
			Requester: req.Requester,
			Origin:    req.Origin,
			ProjectID: current.ProjectID,
			Outcome:   domain.OutcomeTerminated,
			Detail:    "cancelled during provisioning",
		})
		return current, nil
	}

	stopped, err := lease.Stop(pctx, c.leases, c.provider, current)
	if err != nil {
		logger.Error("terminate failed", "error", err)
		return domain.Lease{}, &domain.ProvisionError{Kind: domain.ErrTerminateFailed, ProjectID: current.ProjectID, Err: err}
	}
	if !stopped {
		return domain.Lease{}, domain.ErrNotFound
	}

	logger.Info("instance terminated")
	c.record(pctx, domain.AuditRecord{
		Requester: req.Requester,
		Origin:    req.Origin,
		ProjectID: current.ProjectID,
		Outcome:   domain.OutcomeTerminated,
	})
	return current, nil
}

func (c *Controller) replace(ctx context.Context, current domain.Lease, next domain.Project, req domain.DeploymentRequest) error {
	stopped, err := lease.Stop(ctx, c.leases, c.provider, current)
	if err != nil {
		return fmt.Errorf("replace %s: %w", current.ProjectID, err)
	}
	if stopped {
		c.logger.Info("instance replaced",
			"lease_id", current.ID,
			"project_id", current.ProjectID,
			"replaced_by", next.ID,
		)
		c.record(ctx, domain.AuditRecord{
			Requester: req.Requester,
			Origin:    req.Origin,
			ProjectID: current.ProjectID,
			Outcome:   domain.OutcomeReplaced,
			Detail:    "replaced by " + next.ID,
		})
	}
	return nil
}

func (c *Controller) provision(ctx context.Context, project domain.Project) (compute.Instance, error) {
	env, err := c.secrets.EnvFor(project)
	if err != nil {
		return compute.Instance{}, err
	}
	return c.provider.Create(ctx, compute.CreateSpec{
		ProjectID:   project.ID,
		Name:        project.Name,
		Ref:         project.ProvisioningRef,
		Image:       project.Image,
		SetupScript: project.SetupScript,
		Port:        project.Port,
		Env:         env,
	})
}

func (c *Controller) rollback(ctx context.Context, placeholder domain.Lease, res ratelimit.Reservation) {
	c.removePlaceholder(ctx, placeholder.ID)
	c.release(res)
}

func (c *Controller) removePlaceholder(ctx context.Context, id uuid.UUID) {
	_, removed, err := c.leases.Remove(ctx, id)
	if err != nil {
		c.logger.Error("remove placeholder failed", "lease_id", id, "error", err)
		return
	}
	if removed {
		metrics.SetActiveLease(false)
	}
}

func (c *Controller) discard(ctx context.Context, inst compute.Instance, logger *slog.Logger) {
	if err := c.provider.Terminate(ctx, inst.Handle); err != nil {
		logger.Error("orphaned instance could not be terminated",
			"handle", inst.Handle,
			"error", err,
		)
	}
}

func (c *Controller) release(res ratelimit.Reservation) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.limiter.Release(ctx, res); err != nil {
		c.logger.Error("release rate limit reservation failed", "reservation_id", res.ID, "error", err)
	}
}

func (c *Controller) record(ctx context.Context, rec domain.AuditRecord) {
	if c.audit == nil {
		return
	}
	if _, err := c.audit.Append(ctx, rec); err != nil {
		c.logger.Error("audit append failed",
			"outcome", rec.Outcome,
			"project_id", rec.ProjectID,
			"error", err,
		)
	}
}
