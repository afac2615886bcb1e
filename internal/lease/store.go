// SPDX-License-Identifier: Apache-2.0

// Package lease holds the single instance slot. Every mutation names the
// lease it expects by ID, so a caller holding a stale copy can never act on
// a replacement.
package lease

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("lease not found")
var ErrStatusConflict = errors.New("lease status conflict")

// Attachment is what a finished provider call fills into a placeholder.
type Attachment struct {
	Address   string
	Port      int
	Handle    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Store interface {
	Current(ctx context.Context) (domain.Lease, bool, error)
	// CreateIfAbsent stores l when the slot is empty. Otherwise it returns
	// the lease that occupies the slot and created=false.
	CreateIfAbsent(ctx context.Context, l domain.Lease) (existing domain.Lease, created bool, err error)
	// Attach completes a placeholder. ErrNotFound if the lease is gone,
	// ErrStatusConflict if it is no longer a starting placeholder.
	Attach(ctx context.Context, id uuid.UUID, a Attachment) (domain.Lease, error)
	// TransitionStatus moves the lease to `to` when its current status is one
	// of from. An empty from matches any status.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []domain.LeaseStatus, to domain.LeaseStatus) (domain.Lease, error)
	// Remove clears the slot when it still holds id. Exactly one concurrent
	// caller observes removed=true.
	Remove(ctx context.Context, id uuid.UUID) (domain.Lease, bool, error)
}

// StatusIn reports whether s is one of from; an empty from matches all.
func StatusIn(s domain.LeaseStatus, from []domain.LeaseStatus) bool {
	return len(from) == 0 || slices.Contains(from, s)
}

// NewPlaceholder builds the lease that wins the slot before the provider
// call. Times are provisional until Attach.
func NewPlaceholder(projectID string, port int, now time.Time, lifetime time.Duration) domain.Lease {
	return domain.Lease{
		ID:        uuid.New(),
		ProjectID: projectID,
		Port:      port,
		Status:    domain.LeaseStarting,
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
		UpdatedAt: now,
	}
}
