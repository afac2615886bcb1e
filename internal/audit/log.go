// SPDX-License-Identifier: Apache-2.0

// Package audit records lifecycle outcomes in an append-only log.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/google/uuid"
)

const DefaultListLimit = 100
const MaxListLimit = 1000

type Log interface {
	// Append assigns ID, Seq and CreatedAt when unset and stores the record.
	Append(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, error)
	// List returns the newest records first.
	List(ctx context.Context, limit int) ([]domain.AuditRecord, error)
}

// ClampLimit maps a caller-supplied page size into [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

type MemoryLog struct {
	mu      sync.RWMutex
	records []domain.AuditRecord
	seq     int64
	now     func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

func (m *MemoryLog) Append(_ context.Context, rec domain.AuditRecord) (domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	rec.Seq = m.seq
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now().UTC()
	}
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *MemoryLog) List(_ context.Context, limit int) ([]domain.AuditRecord, error) {
	limit = ClampLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.AuditRecord, 0, min(limit, len(m.records)))
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}
