// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/adiadia/demo-orchestrator/internal/logging"
)

func fastWebhook(url, secret string) *Webhook {
	w := NewWebhook(url, secret, logging.Discard())
	w.client.RetryWaitMin = time.Millisecond
	w.client.RetryWaitMax = 5 * time.Millisecond
	return w
}

func TestWebhookRetriesAndSigns(t *testing.T) {
	var attempts int32
	secret := "super-secret"
	occurred := time.Now().UTC().Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&attempts, 1)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if got, want := r.Header.Get(HeaderSignature), Sign(secret, body); got != want {
			t.Errorf("expected signature %q got %q", want, got)
		}

		var payload lifecyclePayload
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("unmarshal payload: %v", err)
		}
		if payload.Event != "instance.expired" || payload.ProjectID != "setu-voice-ondc" {
			t.Errorf("unexpected payload %+v", payload)
		}
		if !payload.OccurredAt.Equal(occurred) {
			t.Errorf("expected occurred_at %s got %s", occurred, payload.OccurredAt)
		}

		if current < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fastWebhook(srv.URL, secret).Notify(context.Background(), domain.AuditRecord{
		Seq:       7,
		ProjectID: "setu-voice-ondc",
		Outcome:   domain.OutcomeExpired,
		CreatedAt: occurred,
	})

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 webhook attempts got %d", got)
	}
}

func TestWebhookStopsAfterRetryLimit(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fastWebhook(srv.URL, "").Notify(context.Background(), domain.AuditRecord{Outcome: domain.OutcomeSuccess})

	if got := atomic.LoadInt32(&attempts); got != webhookRetryAttempts {
		t.Fatalf("expected %d attempts got %d", webhookRetryAttempts, got)
	}
}

func TestWebhookWithoutURLIsNoop(t *testing.T) {
	w := NewWebhook("  ", "secret", logging.Discard())
	w.Notify(context.Background(), domain.AuditRecord{Outcome: domain.OutcomeSuccess})
}

func TestSignWithoutSecret(t *testing.T) {
	if got := Sign(" ", []byte("x")); got != "" {
		t.Fatalf("expected empty signature got %q", got)
	}
	if Sign("k", []byte("a")) == Sign("k", []byte("b")) {
		t.Fatal("signature must depend on payload")
	}
}
