// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"

	"github.com/adiadia/demo-orchestrator/internal/audit"
	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ audit.Log = (*AuditRepository)(nil)

func NewAuditRepository(pool *pgxpool.Pool, logger *slog.Logger) *AuditRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &AuditRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *AuditRepository) Append(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	if err := r.pool.QueryRow(ctx, `
		INSERT INTO audit_records (
			id, requester_name, requester_email, requester_organization,
			origin, project_id, outcome, detail, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))
		RETURNING seq, created_at
	`,
		rec.ID,
		rec.Requester.Name,
		rec.Requester.Email,
		rec.Requester.Organization,
		rec.Origin,
		rec.ProjectID,
		rec.Outcome,
		rec.Detail,
		nullableTime(rec.CreatedAt),
	).Scan(&rec.Seq, &rec.CreatedAt); err != nil {
		r.logger.Error("insert audit record failed",
			"project_id", rec.ProjectID,
			"outcome", rec.Outcome,
			"error", err,
		)
		return domain.AuditRecord{}, err
	}

	return rec, nil
}

func (r *AuditRepository) List(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	limit = audit.ClampLimit(limit)

	rows, err := r.pool.Query(ctx, `
		SELECT seq, id, requester_name, requester_email, requester_organization,
		       origin, project_id, outcome, detail, created_at
		FROM audit_records
		ORDER BY seq DESC
		LIMIT $1
	`, limit)
	if err != nil {
		r.logger.Error("list audit records query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.AuditRecord, 0, min(limit, 64))
	for rows.Next() {
		var rec domain.AuditRecord
		if err := rows.Scan(
			&rec.Seq,
			&rec.ID,
			&rec.Requester.Name,
			&rec.Requester.Email,
			&rec.Requester.Organization,
			&rec.Origin,
			&rec.ProjectID,
			&rec.Outcome,
			&rec.Detail,
			&rec.CreatedAt,
		); err != nil {
			r.logger.Error("scan audit record failed", "error", err)
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("audit rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}
