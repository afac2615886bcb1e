// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/adiadia/demo-orchestrator/internal/transport/middleware"
)

// writeDomainError maps admission and status errors onto HTTP responses.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		rateErr     *domain.RateLimitedError
		conflictErr *domain.ConflictError
	)

	switch {
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rateErr.RetryAfter.Seconds()))))
		setQuotaHeaders(w, rateErr.Remaining, rateErr.ResetAt)
		middleware.WriteError(w, http.StatusTooManyRequests, "rate_limited", rateErr.Error())

	case errors.Is(err, domain.ErrVerificationFailed):
		middleware.WriteError(w, http.StatusForbidden, "verification_failed", "verification failed")

	case errors.As(err, &conflictErr):
		middleware.WriteError(w, http.StatusConflict, "conflict", conflictErr.Error())

	case errors.Is(err, domain.ErrConflict):
		middleware.WriteError(w, http.StatusConflict, "conflict", err.Error())

	case errors.Is(err, domain.ErrUnknownProject):
		middleware.WriteError(w, http.StatusNotFound, "unknown_project", err.Error())

	case errors.Is(err, domain.ErrTerminateFailed):
		logger.Error("terminate failed", "error", err)
		middleware.WriteError(w, http.StatusBadGateway, "terminate_failed", "failed to terminate instance")

	case errors.Is(err, domain.ErrProvisionFailed):
		logger.Error("provision failed", "error", err)
		middleware.WriteError(w, http.StatusBadGateway, "provision_failed", "failed to provision instance")

	case errors.Is(err, domain.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "not_found", err.Error())

	default:
		logger.Error("request failed", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
