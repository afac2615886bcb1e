// SPDX-License-Identifier: Apache-2.0

package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/audit"
	"github.com/adiadia/demo-orchestrator/internal/compute"
	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/adiadia/demo-orchestrator/internal/lease"
	"github.com/adiadia/demo-orchestrator/internal/logging"
	"github.com/google/uuid"
)

type fakeProvider struct {
	mu           sync.Mutex
	state        compute.State
	statusErr    error
	terminateErr error
	terminated   []string
	gate         chan struct{}
	entered      chan struct{}
}

func (p *fakeProvider) Create(context.Context, compute.CreateSpec) (compute.Instance, error) {
	return compute.Instance{}, errors.New("not used")
}

func (p *fakeProvider) Terminate(_ context.Context, handle string) error {
	p.mu.Lock()
	gate, entered := p.gate, p.entered
	p.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = append(p.terminated, handle)
	return p.terminateErr
}

func (p *fakeProvider) Status(context.Context, string) (compute.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.statusErr
}

func (p *fakeProvider) terminations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.terminated...)
}

type fakeProber struct {
	err   error
	calls int
}

func (f *fakeProber) Probe(context.Context, string, int) error {
	f.calls++
	return f.err
}

type fixture struct {
	reaper   *Reaper
	store    *lease.MemoryStore
	provider *fakeProvider
	prober   *fakeProber
	audit    *audit.MemoryLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    lease.NewMemoryStore(),
		provider: &fakeProvider{},
		prober:   &fakeProber{},
		audit:    audit.NewMemoryLog(),
	}
	f.reaper = New(Deps{
		Leases:          f.store,
		Provider:        f.provider,
		Prober:          f.prober,
		Audit:           f.audit,
		Logger:          logging.Discard(),
		Interval:        10 * time.Millisecond,
		ProviderTimeout: time.Minute,
	})
	return f
}

func (f *fixture) put(t *testing.T, l domain.Lease) domain.Lease {
	t.Helper()
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = time.Now()
	}
	if _, created, err := f.store.CreateIfAbsent(context.Background(), l); err != nil || !created {
		t.Fatalf("seed lease: %v", err)
	}
	return l
}

func (f *fixture) lastOutcome(t *testing.T) domain.AuditOutcome {
	t.Helper()
	recs, _ := f.audit.List(context.Background(), 1)
	if len(recs) == 0 {
		return ""
	}
	return recs[0].Outcome
}

func TestNewDefaults(t *testing.T) {
	r := New(Deps{})
	if r.logger == nil {
		t.Fatal("expected default logger to be set")
	}
	if r.interval != DefaultInterval {
		t.Fatalf("expected default interval %s got %s", DefaultInterval, r.interval)
	}
	if r.providerTimeout != DefaultProviderTimeout {
		t.Fatalf("expected default provider timeout %s got %s", DefaultProviderTimeout, r.providerTimeout)
	}
}

func TestTickExpiresLeaseWithinOneTick(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.put(t, domain.Lease{
		ProjectID:      "alpha",
		ProviderHandle: "h-1",
		Status:         domain.LeaseRunning,
		CreatedAt:      now.Add(-2 * time.Hour),
		ExpiresAt:      now.Add(-time.Second),
	})

	if err := f.reaper.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if _, ok, _ := f.store.Current(context.Background()); ok {
		t.Fatal("expected expired lease to be removed")
	}
	if got := f.provider.terminations(); len(got) != 1 || got[0] != "h-1" {
		t.Fatalf("expected instance terminated, got %v", got)
	}
	if f.lastOutcome(t) != domain.OutcomeExpired {
		t.Fatalf("expected expired audit got %q", f.lastOutcome(t))
	}
}

func TestTickExpiryAtExactDeadline(t *testing.T) {
	f := newFixture(t)
	deadline := time.Now().Add(time.Hour)
	f.put(t, domain.Lease{ProjectID: "alpha", ProviderHandle: "h-1", Status: domain.LeaseRunning, ExpiresAt: deadline})
	f.reaper.now = func() time.Time { return deadline }

	if err := f.reaper.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if _, ok, _ := f.store.Current(context.Background()); ok {
		t.Fatal("lease must expire when now equals its deadline")
	}
}

func TestTickRetriesFailedTeardown(t *testing.T) {
	f := newFixture(t)
	f.provider.terminateErr = errors.New("provider unavailable")
	l := f.put(t, domain.Lease{
		ProjectID:      "alpha",
		ProviderHandle: "h-1",
		Status:         domain.LeaseRunning,
		ExpiresAt:      time.Now().Add(-time.Minute),
	})

	if err := f.reaper.Tick(context.Background()); err == nil {
		t.Fatal("expected tick error")
	}
	cur, ok, _ := f.store.Current(context.Background())
	if !ok || cur.ID != l.ID || cur.Status != domain.LeaseRunning {
		t.Fatalf("expected lease kept as running for retry, got %+v", cur)
	}

	f.provider.mu.Lock()
	f.provider.terminateErr = nil
	f.provider.mu.Unlock()

	if err := f.reaper.Tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if _, ok, _ := f.store.Current(context.Background()); ok {
		t.Fatal("expected lease removed on retry")
	}
}

func TestTickPromotesReadyInstance(t *testing.T) {
	f := newFixture(t)
	f.provider.state = compute.State{Ready: true}
	f.prober.err = errors.New("connection refused")
	l := f.put(t, domain.Lease{
		ProjectID:      "alpha",
		Address:        "10.0.0.1",
		Port:           3000,
		ProviderHandle: "h-1",
		Status:         domain.LeaseStarting,
		ExpiresAt:      time.Now().Add(time.Hour),
	})

	if err := f.reaper.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	cur, _, _ := f.store.Current(context.Background())
	if cur.Status != domain.LeaseStarting {
		t.Fatalf("instance not answering must stay starting, got %s", cur.Status)
	}

	f.prober.err = nil
	if err := f.reaper.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	cur, _, _ = f.store.Current(context.Background())
	if cur.ID != l.ID || cur.Status != domain.LeaseRunning {
		t.Fatalf("expected running, got %+v", cur)
	}
}

func TestTickMarksFailedInstance(t *testing.T) {
	f := newFixture(t)
	f.provider.state = compute.State{Failed: true, Detail: "TERMINATED"}
	f.put(t, domain.Lease{
		ProjectID:      "alpha",
		ProviderHandle: "h-1",
		Status:         domain.LeaseRunning,
		ExpiresAt:      time.Now().Add(time.Hour),
	})

	if err := f.reaper.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	cur, _, _ := f.store.Current(context.Background())
	if cur.Status != domain.LeaseError {
		t.Fatalf("expected error status, got %s", cur.Status)
	}
}

func TestTickStatusErrorIsCountedAndRetried(t *testing.T) {
	f := newFixture(t)
	f.provider.statusErr = errors.New("describe timed out")
	f.put(t, domain.Lease{
		ProjectID:      "alpha",
		ProviderHandle: "h-1",
		Status:         domain.LeaseStarting,
		ExpiresAt:      time.Now().Add(time.Hour),
	})

	if err := f.reaper.Tick(context.Background()); err == nil {
		t.Fatal("expected tick error")
	}
	cur, _, _ := f.store.Current(context.Background())
	if cur.Status != domain.LeaseStarting {
		t.Fatalf("expected lease untouched, got %s", cur.Status)
	}
}

func TestTickRemovesAbandonedPlaceholderOnly(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.put(t, domain.Lease{
		ProjectID: "alpha",
		Status:    domain.LeaseStarting,
		ExpiresAt: now.Add(time.Hour),
		UpdatedAt: now.Add(-30 * time.Second),
	})

	if err := f.reaper.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if _, ok, _ := f.store.Current(context.Background()); !ok {
		t.Fatal("in-flight placeholder must be kept")
	}

	f.reaper.now = func() time.Time { return now.Add(5 * time.Minute) }
	if err := f.reaper.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if _, ok, _ := f.store.Current(context.Background()); ok {
		t.Fatal("abandoned placeholder must be removed")
	}
	if len(f.provider.terminations()) != 0 {
		t.Fatal("placeholder has no instance to terminate")
	}
}

func TestTickResumesStaleTeardown(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.put(t, domain.Lease{
		ProjectID:      "alpha",
		ProviderHandle: "h-1",
		Status:         domain.LeaseStopping,
		ExpiresAt:      now.Add(time.Hour),
		UpdatedAt:      now.Add(-10 * time.Minute),
	})

	if err := f.reaper.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if _, ok, _ := f.store.Current(context.Background()); ok {
		t.Fatal("expected stale stopping lease to be removed")
	}
	if got := f.provider.terminations(); len(got) != 1 {
		t.Fatalf("expected teardown retried once, got %v", got)
	}
	if f.lastOutcome(t) != domain.OutcomeTerminated {
		t.Fatalf("expected terminated audit got %q", f.lastOutcome(t))
	}
}

func TestTickLeavesRecentTeardownAlone(t *testing.T) {
	f := newFixture(t)
	f.put(t, domain.Lease{
		ProjectID:      "alpha",
		ProviderHandle: "h-1",
		Status:         domain.LeaseStopping,
		ExpiresAt:      time.Now().Add(-time.Minute),
	})

	if err := f.reaper.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(f.provider.terminations()) != 0 {
		t.Fatal("a teardown in progress belongs to its caller")
	}
}

func TestTickRacesManualTerminate(t *testing.T) {
	f := newFixture(t)
	f.provider.gate = make(chan struct{})
	f.provider.entered = make(chan struct{}, 2)
	l := f.put(t, domain.Lease{
		ProjectID:      "alpha",
		ProviderHandle: "h-1",
		Status:         domain.LeaseRunning,
		ExpiresAt:      time.Now().Add(-time.Second),
	})

	tickDone := make(chan error, 1)
	go func() { tickDone <- f.reaper.Tick(context.Background()) }()

	<-f.provider.entered
	stopped, err := lease.Stop(context.Background(), f.store, f.provider, l)
	if err != nil || stopped {
		t.Fatalf("manual terminate must lose to the reaper, got %v %v", stopped, err)
	}
	close(f.provider.gate)

	if err := <-tickDone; err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := f.provider.terminations(); len(got) != 1 {
		t.Fatalf("expected exactly one provider terminate, got %v", got)
	}
}

func TestTickWithoutLease(t *testing.T) {
	f := newFixture(t)
	if err := f.reaper.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.reaper.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
