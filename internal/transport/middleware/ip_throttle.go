// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const throttleIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPThrottle is a token bucket per client address, refilled at
// requestsPerMinute with a burst of the same size.
type IPThrottle struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
	logger    *slog.Logger
}

func NewIPThrottle(requestsPerMinute int, logger *slog.Logger) *IPThrottle {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IPThrottle{
		visitors: make(map[string]*visitor, 64),
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    requestsPerMinute,
		now:      time.Now,
		logger:   logger,
	}
}

// Allow takes one token for ip. When none is left it reports how long
// until one will be.
func (t *IPThrottle) Allow(ip string) (bool, time.Duration) {
	now := t.now()
	lim := t.visitor(ip, now)

	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (t *IPThrottle) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			ok, wait := t.Allow(ip)
			if !ok {
				t.logger.Warn("security: request throttled", "origin", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "too_many_requests", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (t *IPThrottle) visitor(ip string, now time.Time) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastSweep) >= throttleIdleTTL {
		for key, v := range t.visitors {
			if now.Sub(v.lastSeen) >= throttleIdleTTL {
				delete(t.visitors, key)
			}
		}
		t.lastSweep = now
	}

	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}
