// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunCatalogCheckListsDefaultProjects(t *testing.T) {
	var out bytes.Buffer
	if err := runCatalogCheck(&out, "", t.TempDir()); err != nil {
		t.Fatalf("catalog check: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected header and projects, got %q", out.String())
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Fatalf("expected header row, got %q", lines[0])
	}
}

func TestRunCatalogCheckRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.yaml")
	if err := os.WriteFile(path, []byte("projects:\n  - id: \"Bad ID\"\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if err := runCatalogCheck(&bytes.Buffer{}, path, ""); err == nil {
		t.Fatal("expected invalid project id to fail")
	}
}

func TestListGoFilesSkipsUnderscoreDirs(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"a.go", "_ref/b.go", "pkg/c.go"} {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("package x\n"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	files, err := listGoFiles(root)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files got %v", files)
	}
	for _, f := range files {
		if strings.Contains(f, "_ref") {
			t.Fatalf("expected _ref to be skipped, got %s", f)
		}
	}
}
