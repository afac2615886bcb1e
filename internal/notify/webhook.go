// SPDX-License-Identifier: Apache-2.0

// Package notify delivers signed lifecycle notifications to an operator
// webhook.
package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBase     = 300 * time.Millisecond
	webhookTimeout       = 10 * time.Second
	HeaderSignature      = "X-Signature"
)

type lifecyclePayload struct {
	Event      string              `json:"event"`
	Seq        int64               `json:"seq"`
	ProjectID  string              `json:"project_id"`
	Outcome    domain.AuditOutcome `json:"outcome"`
	Detail     string              `json:"detail,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// Webhook posts each audit record as JSON, signed with HMAC-SHA256 over the
// body when a secret is configured.
type Webhook struct {
	url    string
	secret string
	client *retryablehttp.Client
	logger *slog.Logger
}

func NewWebhook(url, secret string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = webhookRetryAttempts - 1
	client.RetryWaitMin = webhookRetryBase
	client.RetryWaitMax = 4 * webhookRetryBase
	client.HTTPClient.Timeout = webhookTimeout
	client.Logger = nil

	return &Webhook{
		url:    strings.TrimSpace(url),
		secret: secret,
		client: client,
		logger: logger,
	}
}

func (w *Webhook) Notify(ctx context.Context, rec domain.AuditRecord) {
	if w.url == "" {
		return
	}

	body, err := json.Marshal(lifecyclePayload{
		Event:      "instance." + string(rec.Outcome),
		Seq:        rec.Seq,
		ProjectID:  rec.ProjectID,
		Outcome:    rec.Outcome,
		Detail:     rec.Detail,
		OccurredAt: rec.CreatedAt,
	})
	if err != nil {
		w.logger.Error("webhook payload marshal failed", "seq", rec.Seq, "error", err)
		return
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		w.logger.Error("webhook request build failed", "seq", rec.Seq, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if sig := Sign(w.secret, body); sig != "" {
		req.Header.Set(HeaderSignature, sig)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Error("webhook retries exhausted",
			"seq", rec.Seq,
			"outcome", rec.Outcome,
			"error", err,
		)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		w.logger.Warn("webhook rejected",
			"seq", rec.Seq,
			"outcome", rec.Outcome,
			"response_status", resp.StatusCode,
		)
		return
	}
	w.logger.Debug("webhook delivered",
		"seq", rec.Seq,
		"outcome", rec.Outcome,
		"response_status", resp.StatusCode,
	)
}

// Sign returns the hex HMAC-SHA256 of payload, or "" without a secret.
func Sign(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
