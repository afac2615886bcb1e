// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/google/uuid"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestMemoryStoreCreateIfAbsentSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.CreateIfAbsent(ctx, NewPlaceholder("p", 3000, testNow, time.Hour))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if created {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := winners.Load(); got != 1 {
		t.Fatalf("expected exactly one winner got %d", got)
	}
}

func TestMemoryStoreCreateIfAbsentReturnsExisting(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := NewPlaceholder("a", 3000, testNow, time.Hour)
	if _, created, _ := s.CreateIfAbsent(ctx, first); !created {
		t.Fatal("expected first create to win")
	}

	existing, created, err := s.CreateIfAbsent(ctx, NewPlaceholder("b", 3000, testNow, time.Hour))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created {
		t.Fatal("expected second create to lose")
	}
	if existing.ID != first.ID || existing.ProjectID != "a" {
		t.Fatalf("expected existing lease a, got %+v", existing)
	}
}

func TestMemoryStoreAttach(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := NewPlaceholder("a", 3000, testNow, time.Hour)
	_, _, _ = s.CreateIfAbsent(ctx, p)

	if _, err := s.Attach(ctx, uuid.New(), Attachment{Handle: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}

	created := testNow.Add(time.Minute)
	got, err := s.Attach(ctx, p.ID, Attachment{
		Address:   "10.1.2.3",
		Port:      3000,
		Handle:    "inst-1",
		CreatedAt: created,
		ExpiresAt: created.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got.Placeholder() || got.Address != "10.1.2.3" || !got.ExpiresAt.Equal(created.Add(2*time.Hour)) {
		t.Fatalf("unexpected attached lease %+v", got)
	}

	if _, err := s.Attach(ctx, p.ID, Attachment{Handle: "inst-2"}); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict on second attach, got %v", err)
	}
}

func TestMemoryStoreTransitionStatusCompareAndSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := NewPlaceholder("a", 3000, testNow, time.Hour)
	_, _, _ = s.CreateIfAbsent(ctx, p)

	if _, err := s.TransitionStatus(ctx, p.ID, []domain.LeaseStatus{domain.LeaseRunning}, domain.LeaseStopping); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected conflict from wrong source status, got %v", err)
	}

	got, err := s.TransitionStatus(ctx, p.ID, []domain.LeaseStatus{domain.LeaseStarting}, domain.LeaseRunning)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != domain.LeaseRunning {
		t.Fatalf("expected running got %s", got.Status)
	}

	if _, err := s.TransitionStatus(ctx, uuid.New(), nil, domain.LeaseError); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stale id, got %v", err)
	}
}

func TestMemoryStoreRemoveSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := NewPlaceholder("a", 3000, testNow, time.Hour)
	_, _, _ = s.CreateIfAbsent(ctx, p)

	var (
		wg      sync.WaitGroup
		removed atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := s.Remove(ctx, p.ID); ok {
				removed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := removed.Load(); got != 1 {
		t.Fatalf("expected one remover got %d", got)
	}
	if _, ok, _ := s.Current(ctx); ok {
		t.Fatal("expected empty slot")
	}
}

func TestMemoryStoreRemoveIgnoresReplacement(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := NewPlaceholder("a", 3000, testNow, time.Hour)
	_, _, _ = s.CreateIfAbsent(ctx, old)
	_, _, _ = s.Remove(ctx, old.ID)

	replacement := NewPlaceholder("b", 3000, testNow, time.Hour)
	_, _, _ = s.CreateIfAbsent(ctx, replacement)

	if _, ok, _ := s.Remove(ctx, old.ID); ok {
		t.Fatal("stale id must not remove the replacement")
	}
	cur, ok, _ := s.Current(ctx)
	if !ok || cur.ID != replacement.ID {
		t.Fatalf("expected replacement to survive, got %+v", cur)
	}
}
