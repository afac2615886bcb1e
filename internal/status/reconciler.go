// SPDX-License-Identifier: Apache-2.0

// Package status answers polling clients from stored state only. Nothing
// here calls the compute provider or mutates a lease.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/catalog"
	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/adiadia/demo-orchestrator/internal/lease"
	"github.com/adiadia/demo-orchestrator/internal/ratelimit"
)

type Reconciler struct {
	leases  lease.Store
	limiter ratelimit.Limiter
	catalog *catalog.Catalog
	now     func() time.Time
}

func New(leases lease.Store, limiter ratelimit.Limiter, cat *catalog.Catalog) *Reconciler {
	return &Reconciler{
		leases:  leases,
		limiter: limiter,
		catalog: cat,
		now:     time.Now,
	}
}

func (r *Reconciler) ActiveInstance(ctx context.Context) (domain.LeaseView, bool, error) {
	l, ok, err := r.leases.Current(ctx)
	if err != nil {
		return domain.LeaseView{}, false, fmt.Errorf("read current lease: %w", err)
	}
	if !ok {
		return domain.LeaseView{}, false, nil
	}
	return lease.View(l, r.projectName(l.ProjectID), r.now()), true, nil
}

func (r *Reconciler) Quota(ctx context.Context) (domain.QuotaView, error) {
	d, err := r.limiter.Quota(ctx)
	if err != nil {
		return domain.QuotaView{}, fmt.Errorf("read quota: %w", err)
	}
	return domain.QuotaView{
		Limit:     d.Limit,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt,
	}, nil
}

// ListProjects returns the catalog in order, with the live instance attached
// to the project it runs.
func (r *Reconciler) ListProjects(ctx context.Context) ([]domain.ProjectView, error) {
	active, ok, err := r.ActiveInstance(ctx)
	if err != nil {
		return nil, err
	}

	projects := r.catalog.List()
	out := make([]domain.ProjectView, 0, len(projects))
	for _, p := range projects {
		v := domain.ProjectView{Project: p, Status: domain.ProjectNotRunning}
		if ok && active.ProjectID == p.ID {
			inst := active
			v.Status = string(active.Status)
			v.Instance = &inst
		}
		out = append(out, v)
	}
	return out, nil
}

// ReplacementNotice reports whether deploying projectID now would replace
// the active instance.
func (r *Reconciler) ReplacementNotice(ctx context.Context, projectID string) (domain.ReplacementNotice, error) {
	if _, ok := r.catalog.Get(projectID); !ok {
		return domain.ReplacementNotice{}, fmt.Errorf("%w: %q", domain.ErrUnknownProject, projectID)
	}

	l, ok, err := r.leases.Current(ctx)
	if err != nil {
		return domain.ReplacementNotice{}, fmt.Errorf("read current lease: %w", err)
	}
	if !ok {
		return domain.ReplacementNotice{}, nil
	}

	sameAndHealthy := l.ProjectID == projectID && (l.Status == domain.LeaseStarting || l.Status == domain.LeaseRunning)
	if sameAndHealthy {
		return domain.ReplacementNotice{ActiveProject: l.ProjectID}, nil
	}

	expiresAt := l.ExpiresAt
	return domain.ReplacementNotice{
		WillReplace:   true,
		ActiveProject: l.ProjectID,
		ExpiresAt:     &expiresAt,
	}, nil
}

func (r *Reconciler) projectName(id string) string {
	if p, ok := r.catalog.Get(id); ok {
		return p.Name
	}
	return id
}
