// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestNewLeaseRepository(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var pool *pgxpool.Pool

	repo := NewLeaseRepository(pool, logger)
	if repo == nil {
		t.Fatal("expected lease repository instance")
	}
	if repo.pool != pool {
		t.Fatal("expected pool reference to be preserved")
	}
	if repo.logger != logger {
		t.Fatal("expected logger reference to be preserved")
	}
}

func TestNewAuditRepositoryDefaultsLogger(t *testing.T) {
	repo := NewAuditRepository(nil, nil)
	if repo.logger == nil {
		t.Fatal("expected default logger")
	}
}

func TestNullableTime(t *testing.T) {
	if nullableTime(time.Time{}) != nil {
		t.Fatal("expected zero time to map to NULL")
	}
	now := time.Now()
	if got := nullableTime(now); got == nil || !got.Equal(now) {
		t.Fatalf("expected %v got %v", now, got)
	}
}
