// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"context"
	"errors"
	"fmt"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/adiadia/demo-orchestrator/internal/metrics"
)

// Terminator releases the provider resources behind a lease.
type Terminator interface {
	Terminate(ctx context.Context, handle string) error
}

var stoppable = []domain.LeaseStatus{
	domain.LeaseStarting,
	domain.LeaseRunning,
	domain.LeaseError,
}

// Stop moves l to stopping, terminates its instance and frees the slot.
// The first caller to claim the lease does the work; any later caller gets
// stopped=false with a nil error. When the provider fails the lease is put
// back in its previous status so the next attempt can claim it again.
func Stop(ctx context.Context, store Store, term Terminator, l domain.Lease) (bool, error) {
	claimed, err := store.TransitionStatus(ctx, l.ID, stoppable, domain.LeaseStopping)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStatusConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim lease %s: %w", l.ID, err)
	}
	metrics.IncLeaseTransition(domain.LeaseStopping)

	if err := Teardown(ctx, store, term, claimed); err != nil {
		if _, rerr := store.TransitionStatus(ctx, l.ID, []domain.LeaseStatus{domain.LeaseStopping}, l.Status); rerr != nil &&
			!errors.Is(rerr, ErrNotFound) {
			return false, errors.Join(err, fmt.Errorf("restore lease %s: %w", l.ID, rerr))
		}
		return false, err
	}
	return true, nil
}

// Teardown terminates the instance of a lease the caller already holds in
// stopping and removes it. Placeholders have no instance to terminate.
func Teardown(ctx context.Context, store Store, term Terminator, l domain.Lease) error {
	if !l.Placeholder() {
		if err := term.Terminate(ctx, l.ProviderHandle); err != nil {
			return fmt.Errorf("terminate instance %s: %w", l.ProviderHandle, err)
		}
	}
	if _, removed, err := store.Remove(ctx, l.ID); err != nil {
		return fmt.Errorf("remove lease %s: %w", l.ID, err)
	} else if removed {
		metrics.SetActiveLease(false)
	}
	return nil
}
