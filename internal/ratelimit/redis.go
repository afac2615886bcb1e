// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// reserveScript checks and reserves both windows atomically.
// KEYS: global zset, origin zset.
// ARGV: now ms, global window ms, global limit, origin window ms, origin limit, member.
// Returns {allowed, denied scope (0 none, 1 global, 2 origin), global count, oldest score}.
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local gw = tonumber(ARGV[2])
local gl = tonumber(ARGV[3])
local ow = tonumber(ARGV[4])
local ol = tonumber(ARGV[5])
local member = ARGV[6]

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - gw)
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', now - ow)

local gc = redis.call('ZCARD', KEYS[1])
if gl > 0 and gc >= gl then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  return {0, 1, gc, tonumber(oldest[2])}
end

local oc = redis.call('ZCARD', KEYS[2])
if ol > 0 and oc >= ol then
  local oldest = redis.call('ZRANGE', KEYS[2], 0, 0, 'WITHSCORES')
  return {0, 2, gc, tonumber(oldest[2])}
end

redis.call('ZADD', KEYS[1], now, member)
redis.call('ZADD', KEYS[2], now, member)
redis.call('PEXPIRE', KEYS[1], gw)
redis.call('PEXPIRE', KEYS[2], ow)

local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {1, 0, gc + 1, tonumber(oldest[2])}
`)

// RedisLimiter shares the rolling windows across API replicas. Unlike the
// per-IP request throttle it fails closed: a Redis error denies admission.
type RedisLimiter struct {
	client *redis.Client
	logger *slog.Logger
	policy Policy
	prefix string
	now    func() time.Time
}

// NewRedisLimiter connects and pings Redis before returning.
func NewRedisLimiter(addr, password string, db int, policy Policy, logger *slog.Logger) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisLimiterFromClient(client, policy, logger), nil
}

func NewRedisLimiterFromClient(client *redis.Client, policy Policy, logger *slog.Logger) *RedisLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{
		client: client,
		logger: logger,
		policy: policy.normalized(),
		prefix: "demo:ratelimit:",
		now:    time.Now,
	}
}

func (l *RedisLimiter) globalKey() string { return l.prefix + "global" }

func (l *RedisLimiter) originKey(origin string) string {
	return l.prefix + "origin:" + normalizeOrigin(origin)
}

func (l *RedisLimiter) TryReserve(ctx context.Context, origin string) (Reservation, Decision, error) {
	origin = normalizeOrigin(origin)
	now := l.now()
	member := uuid.NewString()

	g, o := l.policy.Global, l.policy.PerOrigin
	res, err := reserveScript.Run(ctx, l.client,
		[]string{l.globalKey(), l.originKey(origin)},
		now.UnixMilli(),
		windowMillis(g.Length),
		g.Limit,
		windowMillis(o.Length),
		o.Limit,
		member,
	).Int64Slice()
	if err != nil {
		l.logger.Error("redis rate limiter error", "op", "reserve", "error", err)
		return Reservation{}, Decision{}, fmt.Errorf("reserve deploy slot: %w", err)
	}
	if len(res) != 4 {
		return Reservation{}, Decision{}, fmt.Errorf("reserve deploy slot: unexpected reply %v", res)
	}

	allowed, scope, globalCount := res[0] == 1, res[1], int(res[2])
	oldest := time.UnixMilli(res[3])

	switch {
	case allowed:
		return Reservation{ID: member, Origin: origin, At: now}, Decision{
			Allowed:   true,
			Limit:     g.Limit,
			Remaining: remaining(g.Limit, globalCount),
			ResetAt:   oldest.Add(g.Length),
		}, nil
	case scope == 1:
		resetAt := oldest.Add(g.Length)
		return Reservation{}, Decision{
			Scope:      ScopeGlobal,
			Limit:      g.Limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(resetAt, now),
		}, nil
	default:
		resetAt := oldest.Add(o.Length)
		return Reservation{}, Decision{
			Scope:      ScopeOrigin,
			Limit:      o.Limit,
			Remaining:  remaining(g.Limit, globalCount),
			ResetAt:    resetAt,
			RetryAfter: retryAfter(resetAt, now),
		}, nil
	}
}

func (l *RedisLimiter) Release(ctx context.Context, res Reservation) error {
	if res.ID == "" {
		return nil
	}
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, l.globalKey(), res.ID)
		pipe.ZRem(ctx, l.originKey(res.Origin), res.ID)
		return nil
	})
	if err != nil {
		l.logger.Error("redis rate limiter error", "op", "release", "error", err)
		return fmt.Errorf("release deploy slot: %w", err)
	}
	return nil
}

func (l *RedisLimiter) Quota(ctx context.Context) (Decision, error) {
	now := l.now()
	g := l.policy.Global
	floor := "(" + strconv.FormatInt(now.UnixMilli()-windowMillis(g.Length), 10)

	count, err := l.client.ZCount(ctx, l.globalKey(), floor, "+inf").Result()
	if err != nil {
		return Decision{}, fmt.Errorf("read deploy quota: %w", err)
	}

	resetAt := now
	if count > 0 {
		oldest, err := l.client.ZRangeArgsWithScores(ctx, redis.ZRangeArgs{
			Key:     l.globalKey(),
			Start:   floor,
			Stop:    "+inf",
			ByScore: true,
			Count:   1,
		}).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("read deploy quota: %w", err)
		}
		if len(oldest) > 0 {
			resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(g.Length)
		}
	}

	used := int(count)
	return Decision{
		Allowed:   g.Limit <= 0 || used < g.Limit,
		Scope:     ScopeGlobal,
		Limit:     g.Limit,
		Remaining: remaining(g.Limit, used),
		ResetAt:   resetAt,
	}, nil
}

func (l *RedisLimiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

func windowMillis(d time.Duration) int64 {
	return d.Milliseconds()
}
