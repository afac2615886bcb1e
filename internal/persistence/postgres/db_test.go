// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"testing"

	"github.com/adiadia/demo-orchestrator/migrations"
)

func TestNewPoolInvalidURL(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(context.Background(), "://not-valid")
	if err == nil {
		t.Fatal("expected invalid URL to return an error")
	}
	if pool != nil {
		t.Fatal("expected pool to be nil on parse error")
	}
}

func TestEnsureSchemaRejectsMissingInputs(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := EnsureSchema(context.Background(), nil, "postgres://x", logger); err == nil {
		t.Fatal("expected nil pool to fail")
	}
	if err := SchemaReady(context.Background(), nil); err == nil {
		t.Fatal("expected nil pool to fail schema check")
	}
}

func TestEmbeddedMigrationsAreGooseAnnotated(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) < len(requiredTables) {
		t.Fatalf("expected at least %d migrations got %d", len(requiredTables), len(entries))
	}

	for _, entry := range entries {
		body, err := fs.ReadFile(migrations.FS, entry.Name())
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		sql := string(body)
		if !strings.Contains(sql, "-- +goose Up") || !strings.Contains(sql, "-- +goose Down") {
			t.Fatalf("%s is missing goose up/down markers", entry.Name())
		}
	}
}
