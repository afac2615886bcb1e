// SPDX-License-Identifier: Apache-2.0

package lease

import (
	"testing"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
)

func TestViewProjectsLease(t *testing.T) {
	l := domain.Lease{
		ProjectID: "setu-voice-ondc",
		Address:   "34.1.2.3",
		Port:      3000,
		Status:    domain.LeaseRunning,
		CreatedAt: testNow,
		ExpiresAt: testNow.Add(2 * time.Hour),
	}

	v := View(l, "Setu", testNow.Add(30*time.Minute))
	if v.URL != "http://34.1.2.3:3000" || v.ProjectName != "Setu" {
		t.Fatalf("unexpected view %+v", v)
	}
	if v.RemainingSeconds != int64(90*60) {
		t.Fatalf("expected 5400 remaining seconds got %d", v.RemainingSeconds)
	}

	if got := View(l, "Setu", testNow.Add(3*time.Hour)).RemainingSeconds; got != 0 {
		t.Fatalf("expected remaining clamped to 0 got %d", got)
	}
}

func TestViewOfPlaceholderHasNoURL(t *testing.T) {
	v := View(NewPlaceholder("a", 3000, testNow, time.Hour), "A", testNow)
	if v.URL != "" || v.Status != domain.LeaseStarting {
		t.Fatalf("unexpected placeholder view %+v", v)
	}
}
