// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/demo-orchestrator/internal/domain"
)

type Deployer interface {
	Deploy(ctx context.Context, req domain.DeploymentRequest) (domain.LeaseView, error)
	Terminate(ctx context.Context, req domain.TerminationRequest) (domain.Lease, error)
}

type StatusReader interface {
	ActiveInstance(ctx context.Context) (domain.LeaseView, bool, error)
	Quota(ctx context.Context) (domain.QuotaView, error)
	ListProjects(ctx context.Context) ([]domain.ProjectView, error)
	ReplacementNotice(ctx context.Context, projectID string) (domain.ReplacementNotice, error)
}

type AuditLister interface {
	List(ctx context.Context, limit int) ([]domain.AuditRecord, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
