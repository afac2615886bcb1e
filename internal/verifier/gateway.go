// SPDX-License-Identifier: Apache-2.0

// Package verifier decides whether a visitor token is human enough to admit
// a deployment.
package verifier

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/adiadia/demo-orchestrator/internal/metrics"
)

const (
	DefaultMinScore = 0.5
	DefaultTimeout  = 10 * time.Second
)

const (
	ReasonMissingToken   = "missing_token"
	ReasonInvalidToken   = "invalid_token"
	ReasonActionMismatch = "action_mismatch"
	ReasonUnavailable    = "assessor_unavailable"
	ReasonLowScore       = "low_score"
)

// Assessment is the verdict of the external bot-risk service for one token.
type Assessment struct {
	Valid   bool
	Score   float64
	Action  string
	Reasons []string
}

type Assessor interface {
	Assess(ctx context.Context, token, action string) (Assessment, error)
}

// Gateway applies the score threshold and action check on top of an
// Assessor. Tokens are single-use, so nothing here is retried.
type Gateway struct {
	assessor Assessor
	minScore float64
	timeout  time.Duration
	logger   *slog.Logger
}

func NewGateway(assessor Assessor, minScore float64, timeout time.Duration, logger *slog.Logger) *Gateway {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		assessor: assessor,
		minScore: minScore,
		timeout:  timeout,
		logger:   logger,
	}
}

// Verify returns the score of an accepted token. Scores equal to the
// threshold are accepted.
func (g *Gateway) Verify(ctx context.Context, token, expectedAction string) (float64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, g.reject(ReasonMissingToken, -1, nil)
	}

	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	a, err := g.assessor.Assess(actx, token, expectedAction)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			g.logger.Warn("verification timed out", "timeout", g.timeout)
		}
		return 0, g.reject(ReasonUnavailable, -1, err)
	}

	if !a.Valid {
		reason := ReasonInvalidToken
		if len(a.Reasons) > 0 {
			reason += ": " + strings.Join(a.Reasons, ",")
		}
		return 0, g.reject(reason, -1, nil)
	}
	if a.Action != expectedAction {
		g.logger.Warn("verification action mismatch",
			"expected_action", expectedAction,
			"action", a.Action,
		)
		return a.Score, g.reject(ReasonActionMismatch, a.Score, nil)
	}
	if a.Score < g.minScore {
		return a.Score, g.reject(ReasonLowScore, a.Score, nil)
	}

	metrics.ObserveVerification("accepted", a.Score)
	return a.Score, nil
}

func (g *Gateway) reject(reason string, score float64, cause error) error {
	metrics.ObserveVerification("rejected", score)
	return &domain.VerificationError{Reason: reason, Err: cause}
}
