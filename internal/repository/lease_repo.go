// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/adiadia/demo-orchestrator/internal/lease"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const leaseColumns = `id, project_id, address, port, provider_handle, status, created_at, expires_at, updated_at`

// createAttempts bounds the insert/read loop when the slot flips between
// occupied and empty under us.
const createAttempts = 3

// LeaseRepository keeps the instance slot as a single row (slot = 1), so the
// primary key is what enforces one active lease across processes.
type LeaseRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ lease.Store = (*LeaseRepository)(nil)

func NewLeaseRepository(pool *pgxpool.Pool, logger *slog.Logger) *LeaseRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &LeaseRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *LeaseRepository) Current(ctx context.Context) (domain.Lease, bool, error) {
	l, err := scanLease(r.pool.QueryRow(ctx, `SELECT `+leaseColumns+` FROM leases WHERE slot = 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lease{}, false, nil
	}
	if err != nil {
		r.logger.Error("read lease failed", "error", err)
		return domain.Lease{}, false, err
	}
	return l, true, nil
}

func (r *LeaseRepository) CreateIfAbsent(ctx context.Context, l domain.Lease) (domain.Lease, bool, error) {
	for range createAttempts {
		created, err := scanLease(r.pool.QueryRow(ctx, `
			INSERT INTO leases (slot, id, project_id, address, port, provider_handle, status, created_at, expires_at, updated_at)
			VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))
			ON CONFLICT (slot) DO NOTHING
			RETURNING `+leaseColumns,
			l.ID,
			l.ProjectID,
			l.Address,
			l.Port,
			l.ProviderHandle,
			l.Status,
			l.CreatedAt,
			l.ExpiresAt,
			nullableTime(l.UpdatedAt),
		))
		if err == nil {
			r.logger.Info("lease created", "lease_id", created.ID, "project_id", created.ProjectID)
			return created, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Error("insert lease failed", "lease_id", l.ID, "error", err)
			return domain.Lease{}, false, err
		}

		existing, ok, err := r.Current(ctx)
		if err != nil {
			return domain.Lease{}, false, err
		}
		if ok {
			return existing, false, nil
		}
		// removed between the conflict and the read; try the insert again
	}

	return domain.Lease{}, false, fmt.Errorf("lease slot contended after %d attempts", createAttempts)
}

func (r *LeaseRepository) Attach(ctx context.Context, id uuid.UUID, a lease.Attachment) (domain.Lease, error) {
	updated, err := scanLease(r.pool.QueryRow(ctx, `
		UPDATE leases
		SET address = $2,
		    port = $3,
		    provider_handle = $4,
		    created_at = $5,
		    expires_at = $6,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $7
		  AND provider_handle = ''
		RETURNING `+leaseColumns,
		id,
		a.Address,
		a.Port,
		a.Handle,
		a.CreatedAt,
		a.ExpiresAt,
		domain.LeaseStarting,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("attach lease failed", "lease_id", id, "error", err)
		return domain.Lease{}, err
	}
	return r.explainMiss(ctx, id)
}

func (r *LeaseRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []domain.LeaseStatus, to domain.LeaseStatus) (domain.Lease, error) {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}

	updated, err := scanLease(r.pool.QueryRow(ctx, `
		UPDATE leases
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		RETURNING `+leaseColumns,
		id,
		to,
		allowed,
	))
	if err == nil {
		r.logger.Info("lease status changed", "lease_id", id, "status", to)
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("transition lease failed", "lease_id", id, "to", to, "error", err)
		return domain.Lease{}, err
	}
	return r.explainMiss(ctx, id)
}

func (r *LeaseRepository) Remove(ctx context.Context, id uuid.UUID) (domain.Lease, bool, error) {
	removed, err := scanLease(r.pool.QueryRow(ctx,
		`DELETE FROM leases WHERE id = $1 RETURNING `+leaseColumns,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lease{}, false, nil
	}
	if err != nil {
		r.logger.Error("remove lease failed", "lease_id", id, "error", err)
		return domain.Lease{}, false, err
	}
	r.logger.Info("lease removed", "lease_id", id, "project_id", removed.ProjectID)
	return removed, true, nil
}

// explainMiss turns a conditional update that matched nothing into the
// store's sentinel errors.
func (r *LeaseRepository) explainMiss(ctx context.Context, id uuid.UUID) (domain.Lease, error) {
	current, ok, err := r.Current(ctx)
	if err != nil {
		return domain.Lease{}, err
	}
	if !ok || current.ID != id {
		return domain.Lease{}, lease.ErrNotFound
	}
	return current, lease.ErrStatusConflict
}

func scanLease(row pgx.Row) (domain.Lease, error) {
	var l domain.Lease
	err := row.Scan(
		&l.ID,
		&l.ProjectID,
		&l.Address,
		&l.Port,
		&l.ProviderHandle,
		&l.Status,
		&l.CreatedAt,
		&l.ExpiresAt,
		&l.UpdatedAt,
	)
	return l, err
}
