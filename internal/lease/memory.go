// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"context"
	"sync"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore is the in-process Store. One mutex guards the slot; it is
// never held across provider calls.
type MemoryStore struct {
	mu   sync.Mutex
	slot *domain.Lease
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Current(_ context.Context) (domain.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slot == nil {
		return domain.Lease{}, false, nil
	}
	return *s.slot, true, nil
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, l domain.Lease) (domain.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slot != nil {
		return *s.slot, false, nil
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = s.now().UTC()
	}
	stored := l
	s.slot = &stored
	return l, true, nil
}

func (s *MemoryStore) Attach(_ context.Context, id uuid.UUID, a Attachment) (domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slot == nil || s.slot.ID != id {
		return domain.Lease{}, ErrNotFound
	}
	if !s.slot.Placeholder() || s.slot.Status != domain.LeaseStarting {
		return *s.slot, ErrStatusConflict
	}

	s.slot.Address = a.Address
	s.slot.Port = a.Port
	s.slot.ProviderHandle = a.Handle
	s.slot.CreatedAt = a.CreatedAt
	s.slot.ExpiresAt = a.ExpiresAt
	s.slot.UpdatedAt = s.now().UTC()
	return *s.slot, nil
}

func (s *MemoryStore) TransitionStatus(_ context.Context, id uuid.UUID, from []domain.LeaseStatus, to domain.LeaseStatus) (domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slot == nil || s.slot.ID != id {
		return domain.Lease{}, ErrNotFound
	}
	if !StatusIn(s.slot.Status, from) {
		return *s.slot, ErrStatusConflict
	}

	s.slot.Status = to
	s.slot.UpdatedAt = s.now().UTC()
	return *s.slot, nil
}

func (s *MemoryStore) Remove(_ context.Context, id uuid.UUID) (domain.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slot == nil || s.slot.ID != id {
		return domain.Lease{}, false, nil
	}
	removed := *s.slot
	s.slot = nil
	return removed, true, nil
}
