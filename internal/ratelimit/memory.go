// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	id string
	at time.Time
}

// MemoryLimiter keeps reservation timestamps in process memory. Both windows
// are checked and updated under one mutex.
type MemoryLimiter struct {
	mu        sync.Mutex
	policy    Policy
	now       func() time.Time
	global    []entry
	origins   map[string][]entry
	lastSweep time.Time
}

func NewMemoryLimiter(policy Policy) *MemoryLimiter {
	return newMemoryLimiterWithClock(policy, time.Now)
}

func newMemoryLimiterWithClock(policy Policy, now func() time.Time) *MemoryLimiter {
	return &MemoryLimiter{
		policy:  policy.normalized(),
		now:     now,
		origins: make(map[string][]entry, 32),
	}
}

func (l *MemoryLimiter) TryReserve(_ context.Context, origin string) (Reservation, Decision, error) {
	origin = normalizeOrigin(origin)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = prune(l.global, now, l.policy.Global.Length)
	originEntries := prune(l.origins[origin], now, l.policy.PerOrigin.Length)
	l.origins[origin] = originEntries
	l.sweepLocked(now)

	g := l.policy.Global
	if g.Limit > 0 && len(l.global) >= g.Limit {
		resetAt := l.global[0].at.Add(g.Length)
		return Reservation{}, Decision{
			Scope:      ScopeGlobal,
			Limit:      g.Limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(resetAt, now),
		}, nil
	}

	o := l.policy.PerOrigin
	if o.Limit > 0 && len(originEntries) >= o.Limit {
		resetAt := originEntries[0].at.Add(o.Length)
		return Reservation{}, Decision{
			Scope:      ScopeOrigin,
			Limit:      o.Limit,
			Remaining:  remaining(g.Limit, len(l.global)),
			ResetAt:    resetAt,
			RetryAfter: retryAfter(resetAt, now),
		}, nil
	}

	res := Reservation{ID: uuid.NewString(), Origin: origin, At: now}
	e := entry{id: res.ID, at: now}
	l.global = append(l.global, e)
	l.origins[origin] = append(originEntries, e)

	return res, Decision{
		Allowed:   true,
		Limit:     g.Limit,
		Remaining: remaining(g.Limit, len(l.global)),
		ResetAt:   l.global[0].at.Add(g.Length),
	}, nil
}

// Release removes the reservation from both windows. Releasing an unknown or
// already released reservation is a no-op.
func (l *MemoryLimiter) Release(_ context.Context, res Reservation) error {
	if res.ID == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.global = without(l.global, res.ID)
	origin := normalizeOrigin(res.Origin)
	if entries, ok := l.origins[origin]; ok {
		entries = without(entries, res.ID)
		if len(entries) == 0 {
			delete(l.origins, origin)
		} else {
			l.origins[origin] = entries
		}
	}
	return nil
}

// Quota reports the global window without mutating it.
func (l *MemoryLimiter) Quota(_ context.Context) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	g := l.policy.Global
	count := 0
	resetAt := now
	for _, e := range l.global {
		if now.Sub(e.at) < g.Length {
			if count == 0 {
				resetAt = e.at.Add(g.Length)
			}
			count++
		}
	}

	return Decision{
		Allowed:   g.Limit <= 0 || count < g.Limit,
		Scope:     ScopeGlobal,
		Limit:     g.Limit,
		Remaining: remaining(g.Limit, count),
		ResetAt:   resetAt,
	}, nil
}

func (l *MemoryLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.policy.PerOrigin.Length {
		return
	}
	l.lastSweep = now
	for origin, entries := range l.origins {
		entries = prune(entries, now, l.policy.PerOrigin.Length)
		if len(entries) == 0 {
			delete(l.origins, origin)
			continue
		}
		l.origins[origin] = entries
	}
}

// prune drops entries that rolled out of the window. Entries are kept in
// insertion order, which is also time order.
func prune(entries []entry, now time.Time, length time.Duration) []entry {
	i := 0
	for i < len(entries) && now.Sub(entries[i].at) >= length {
		i++
	}
	if i == 0 {
		return entries
	}
	return append(entries[:0:0], entries[i:]...)
}

func without(entries []entry, id string) []entry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

func remaining(limit, used int) int {
	if limit <= 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
