// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"time"

	"github.com/adiadia/demo-orchestrator/internal/compute"
	"github.com/adiadia/demo-orchestrator/internal/domain"
)

// View projects l for clients. RemainingSeconds never goes below zero.
func View(l domain.Lease, projectName string, now time.Time) domain.LeaseView {
	remaining := int64(l.ExpiresAt.Sub(now) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return domain.LeaseView{
		ProjectID:        l.ProjectID,
		ProjectName:      projectName,
		Address:          l.Address,
		Port:             l.Port,
		URL:              compute.InstanceURL(l.Address, l.Port),
		Status:           l.Status,
		CreatedAt:        l.CreatedAt,
		ExpiresAt:        l.ExpiresAt,
		RemainingSeconds: remaining,
	}
}
