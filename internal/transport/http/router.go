// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/adiadia/demo-orchestrator/internal/metrics"
	"github.com/adiadia/demo-orchestrator/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 64 << 10

const (
	headerQuotaRemaining = "X-Quota-Remaining"
	headerQuotaReset     = "X-Quota-Reset"
)

type deployRequest struct {
	ProjectID         string `json:"project_id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Organization      string `json:"organization"`
	VerificationToken string `json:"verification_token"`
}

type terminateRequest struct {
	ProjectID string `json:"project_id"`
}

type Deps struct {
	Deployer  Deployer
	Status    StatusReader
	Audit     AuditLister
	Readiness HealthChecker
	Logger    *slog.Logger

	AdminToken         string
	RecaptchaSiteKey   string
	RequestsPerMinute  int
	TrustProxyHeaders  bool
	StatusPushInterval time.Duration
	AllowedOrigins     []string

	Version   string
	Commit    string
	BuildDate string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	if deps.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))
	r.Use(chimiddleware.Recoverer)

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Readiness.Check(ctx); err != nil {
				logger.Warn("readiness check failed", "error", err)
				middleware.WriteError(w, http.StatusServiceUnavailable, "not_ready", "not ready")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- AUDIT (ADMIN) ----------------

	if deps.Audit != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

			admin.Get("/audit", func(w http.ResponseWriter, r *http.Request) {
				limit := 0
				if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
					parsed, err := strconv.Atoi(raw)
					if err != nil || parsed < 0 {
						middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
						return
					}
					limit = parsed
				}

				records, err := deps.Audit.List(r.Context(), limit)
				if err != nil {
					logger.Error("list audit records failed", "error", err)
					middleware.WriteError(w, http.StatusInternalServerError, "internal", "failed to list audit records")
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"records": records,
				})
			})
		})
	}

	// ---------------- PUBLIC API (PER-IP THROTTLE) ----------------

	r.Route("/api", func(api chi.Router) {
		if deps.RequestsPerMinute > 0 {
			api.Use(middleware.NewIPThrottle(deps.RequestsPerMinute, logger).Middleware())
		}

		// ---------------- CLIENT CONFIG ----------------

		api.Get("/config", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"recaptcha_site_key": deps.RecaptchaSiteKey,
				"recaptcha_action":   domain.ActionDeploy,
			})
		})

		// ---------------- PROJECTS ----------------

		api.Get("/projects", func(w http.ResponseWriter, r *http.Request) {
			projects, err := deps.Status.ListProjects(r.Context())
			if err != nil {
				logger.Error("list projects failed", "error", err)
				middleware.WriteError(w, http.StatusInternalServerError, "internal", "failed to list projects")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"projects": projects,
			})
		})

		// ---------------- INSTANCE ----------------

		api.Get("/instance", func(w http.ResponseWriter, r *http.Request) {
			view, ok, err := deps.Status.ActiveInstance(r.Context())
			if err != nil {
				logger.Error("read active instance failed", "error", err)
				middleware.WriteError(w, http.StatusInternalServerError, "internal", "failed to read instance")
				return
			}
			writeJSON(w, http.StatusOK, instanceResponse(view, ok))
		})

		api.Get("/instance/replace-notice", func(w http.ResponseWriter, r *http.Request) {
			projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
			if projectID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "project_id is required")
				return
			}

			notice, err := deps.Status.ReplacementNotice(r.Context(), projectID)
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			writeJSON(w, http.StatusOK, notice)
		})

		// ---------------- QUOTA ----------------

		api.Get("/quota", func(w http.ResponseWriter, r *http.Request) {
			quota, err := deps.Status.Quota(r.Context())
			if err != nil {
				logger.Error("read quota failed", "error", err)
				middleware.WriteError(w, http.StatusInternalServerError, "internal", "failed to read quota")
				return
			}
			setQuotaHeaders(w, quota.Remaining, quota.ResetAt)
			writeJSON(w, http.StatusOK, quota)
		})

		// ---------------- DEPLOY ----------------

		api.Post("/deploy", func(w http.ResponseWriter, r *http.Request) {
			var body deployRequest
			if err := decodeJSONBody(w, r, &body); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
				return
			}
			body.ProjectID = strings.TrimSpace(body.ProjectID)
			if body.ProjectID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "project_id is required")
				return
			}

			view, err := deps.Deployer.Deploy(r.Context(), domain.DeploymentRequest{
				ProjectID: body.ProjectID,
				Requester: domain.Requester{
					Name:         strings.TrimSpace(body.Name),
					Email:        strings.TrimSpace(body.Email),
					Organization: strings.TrimSpace(body.Organization),
				},
				VerificationToken: strings.TrimSpace(body.VerificationToken),
				Origin:            middleware.ClientIP(r),
			})
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}

			if quota, err := deps.Status.Quota(r.Context()); err == nil {
				setQuotaHeaders(w, quota.Remaining, quota.ResetAt)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"instance": view,
			})
		})

		// ---------------- TERMINATE ----------------

		api.Post("/terminate", func(w http.ResponseWriter, r *http.Request) {
			var body terminateRequest
			if err := decodeJSONBody(w, r, &body); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
				return
			}

			stopped, err := deps.Deployer.Terminate(r.Context(), domain.TerminationRequest{
				ProjectID: strings.TrimSpace(body.ProjectID),
				Origin:    middleware.ClientIP(r),
			})
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					writeJSON(w, http.StatusOK, map[string]string{"status": "not_running"})
					return
				}
				writeDomainError(w, logger, err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]string{
				"status":     "terminated",
				"project_id": stopped.ProjectID,
			})
		})

		// ---------------- STATUS STREAM (WEBSOCKET) ----------------

		api.Get("/status/stream", newStatusStream(deps.Status, deps.StatusPushInterval, deps.AllowedOrigins, logger).ServeHTTP)
	})

	return r
}

func instanceResponse(view domain.LeaseView, ok bool) map[string]any {
	if !ok {
		return map[string]any{"instance": nil}
	}
	return map[string]any{"instance": view}
}

func setQuotaHeaders(w http.ResponseWriter, remaining int, resetAt time.Time) {
	if remaining >= 0 {
		w.Header().Set(headerQuotaRemaining, strconv.Itoa(remaining))
	}
	if !resetAt.IsZero() {
		w.Header().Set(headerQuotaReset, strconv.FormatInt(resetAt.Unix(), 10))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSONBody accepts an empty body as the zero value and rejects
// unknown fields and trailing data.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
