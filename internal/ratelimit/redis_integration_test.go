//go:build integration

// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

func newIntegrationLimiter(t *testing.T, policy Policy) *RedisLimiter {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	l := NewRedisLimiterFromClient(client, policy, nil)
	l.prefix = "demo:test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), l.prefix+"*").Result()
		if len(keys) > 0 {
			_ = client.Del(context.Background(), keys...).Err()
		}
		_ = l.Close()
	})
	return l
}

func TestRedisLimiterGlobalCapAndRelease(t *testing.T) {
	l := newIntegrationLimiter(t, Policy{
		Global:    Window{Limit: 3, Length: time.Hour},
		PerOrigin: Window{Limit: 1, Length: time.Minute},
	})
	ctx := context.Background()

	var first Reservation
	for i, origin := range []string{"a", "b", "c"} {
		res, d, err := l.TryReserve(ctx, origin)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("reserve %d denied: %+v", i, d)
		}
		if i == 0 {
			first = res
		}
	}

	_, d, err := l.TryReserve(ctx, "d")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if d.Allowed || d.Scope != ScopeGlobal || d.Remaining != 0 {
		t.Fatalf("expected global denial got %+v", d)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Hour {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}

	if err := l.Release(ctx, first); err != nil {
		t.Fatalf("release: %v", err)
	}
	q, err := l.Quota(ctx)
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if q.Remaining != 1 {
		t.Fatalf("expected remaining 1 after release got %d", q.Remaining)
	}
}

func TestRedisLimiterPerOriginCap(t *testing.T) {
	l := newIntegrationLimiter(t, Policy{
		Global:    Window{Limit: 3, Length: time.Hour},
		PerOrigin: Window{Limit: 1, Length: time.Minute},
	})
	ctx := context.Background()

	if _, d, err := l.TryReserve(ctx, "a"); err != nil || !d.Allowed {
		t.Fatalf("expected first reservation allowed: %+v %v", d, err)
	}
	_, d, err := l.TryReserve(ctx, "a")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if d.Allowed || d.Scope != ScopeOrigin || d.Remaining != 2 {
		t.Fatalf("expected origin denial with remaining 2, got %+v", d)
	}
}
