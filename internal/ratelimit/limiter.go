// SPDX-License-Identifier: Apache-2.0

// Package ratelimit accounts deploy admissions in continuously rolling
// windows: one global window and one window per origin. A reservation made
// at t counts while now-t < window length; on the boundary itself it has
// already rolled out.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

const (
	ScopeGlobal = "global"
	ScopeOrigin = "origin"
)

// Window is a capacity over a rolling duration. Limit <= 0 disables it.
type Window struct {
	Limit  int
	Length time.Duration
}

type Policy struct {
	Global    Window
	PerOrigin Window
}

func (p Policy) normalized() Policy {
	if p.Global.Length <= 0 {
		p.Global.Length = time.Hour
	}
	if p.PerOrigin.Length <= 0 {
		p.PerOrigin.Length = time.Minute
	}
	return p
}

// Reservation is a provisional slot taken before provisioning starts.
type Reservation struct {
	ID     string
	Origin string
	At     time.Time
}

// Decision describes the limiter state after a reservation attempt or a
// quota read. Remaining, Limit and ResetAt always describe the global window
// unless Scope reports that the origin window denied the request.
type Decision struct {
	Allowed    bool
	Scope      string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Limiter interface {
	TryReserve(ctx context.Context, origin string) (Reservation, Decision, error)
	Release(ctx context.Context, res Reservation) error
	Quota(ctx context.Context) (Decision, error)
}

func normalizeOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "unknown"
	}
	return origin
}

func retryAfter(resetAt, now time.Time) time.Duration {
	d := resetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}
