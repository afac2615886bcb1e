// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/adiadia/demo-orchestrator/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	deploymentsTotalCounter    *prometheus.CounterVec
	leaseTransitionsCounter    *prometheus.CounterVec
	rateLimitDenialsCounter    *prometheus.CounterVec
	verificationsCounter       *prometheus.CounterVec
	verificationScoreMetric    prometheus.Histogram
	providerCallDurationMetric *prometheus.HistogramVec
	reaperTickErrorsCounter    prometheus.Counter
	activeLeaseGauge           prometheus.Gauge
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		deploymentsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployments_total",
				Help: "Deploy requests by terminal outcome.",
			},
			[]string{"outcome"},
		)

		leaseTransitionsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lease_transitions_total",
				Help: "Lease status transitions by target status.",
			},
			[]string{"status"},
		)

		rateLimitDenialsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_denials_total",
				Help: "Deploy admissions denied by the rolling-window limiter.",
			},
			[]string{"scope"},
		)

		verificationsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "verifications_total",
				Help: "Bot-risk verifications by result.",
			},
			[]string{"result"},
		)

		verificationScoreMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "verification_score",
				Help:    "Distribution of bot-risk scores returned by the verifier.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		)

		providerCallDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_call_duration_seconds",
				Help:    "Duration of compute provider calls in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"op", "result"},
		)

		reaperTickErrorsCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reaper_tick_errors_total",
				Help: "Reaper ticks that ended with an error and will be retried.",
			},
		)

		activeLeaseGauge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_leases",
				Help: "Number of leases holding the instance slot (0 or 1).",
			},
		)

		prometheus.MustRegister(
			deploymentsTotalCounter,
			leaseTransitionsCounter,
			rateLimitDenialsCounter,
			verificationsCounter,
			verificationScoreMetric,
			providerCallDurationMetric,
			reaperTickErrorsCounter,
			activeLeaseGauge,
		)

		// Ensure label sets are visible at /metrics before first increment.
		for _, outcome := range []string{
			"success",
			"idempotent",
			"rate_limited",
			"verification_failed",
			"conflict",
			"provision_failed",
		} {
			deploymentsTotalCounter.WithLabelValues(outcome)
		}

		for _, status := range []domain.LeaseStatus{
			domain.LeaseStarting,
			domain.LeaseRunning,
			domain.LeaseStopping,
			domain.LeaseError,
		} {
			leaseTransitionsCounter.WithLabelValues(string(status))
		}
	})
}

func IncDeployment(outcome string) {
	Init()
	deploymentsTotalCounter.WithLabelValues(outcome).Inc()
}

func IncLeaseTransition(status domain.LeaseStatus) {
	Init()
	leaseTransitionsCounter.WithLabelValues(string(status)).Inc()
}

func IncRateLimitDenial(scope string) {
	Init()
	rateLimitDenialsCounter.WithLabelValues(scope).Inc()
}

func ObserveVerification(result string, score float64) {
	Init()
	verificationsCounter.WithLabelValues(result).Inc()
	if score >= 0 {
		verificationScoreMetric.Observe(score)
	}
}

func ObserveProviderCall(op string, err error, d time.Duration) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerCallDurationMetric.WithLabelValues(op, result).Observe(d.Seconds())
}

func IncReaperTickErrors() {
	Init()
	reaperTickErrorsCounter.Inc()
}

func SetActiveLease(active bool) {
	Init()
	if active {
		activeLeaseGauge.Set(1)
		return
	}
	activeLeaseGauge.Set(0)
}
