package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Window is the bucketing period for a counter.
type Window string

const (
	PerDay  Window = "day"
	PerHour Window = "hour"
)

// Counter names for the org-level caps.
const (
	CounterNewLeads = "new_leads"
	CounterMessages = "messages"
	CounterActions  = "actions"
)

const keyPrefix = "leadpilot:rl:"

// Limiter enforces per-org activity caps with Redis counters. Keys
// embed the bucket timestamp and expire one window after last use, so
// there is nothing to reset at midnight.
type Limiter struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewLimiter connects to Redis and verifies the connection.
func NewLimiter(redisURL string, logger *zap.Logger) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Limiter{rdb: rdb, logger: logger}, nil
}

// Allow consumes one unit from the org's counter and reports whether
// the limit still holds. A limit of zero or less means unlimited. The
// increment happens before the check, so a denied call still counts;
// callers should check right before acting, not speculatively.
func (l *Limiter) Allow(ctx context.Context, orgID, counter string, window Window, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	key := l.key(orgID, counter, window, time.Now().UTC())
	ttl := 24 * time.Hour
	if window == PerHour {
		ttl = time.Hour
	}

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("ratelimit %s/%s: %w", orgID, counter, err)
	}

	count := incr.Val()
	if count > int64(limit) {
		l.logger.Debug("rate limit hit",
			zap.String("org_id", orgID),
			zap.String("counter", counter),
			zap.Int64("count", count),
			zap.Int("limit", limit))
		return false, nil
	}
	return true, nil
}

// Remaining reports how many units are left in the current bucket
// without consuming any. Unlimited counters report -1.
func (l *Limiter) Remaining(ctx context.Context, orgID, counter string, window Window, limit int) (int, error) {
	if limit <= 0 {
		return -1, nil
	}
	key := l.key(orgID, counter, window, time.Now().UTC())
	count, err := l.rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit %s/%s: %w", orgID, counter, err)
	}
	left := limit - count
	if left < 0 {
		left = 0
	}
	return left, nil
}

func (l *Limiter) key(orgID, counter string, window Window, now time.Time) string {
	var bucket string
	switch window {
	case PerHour:
		bucket = now.Format("2006-01-02T15")
	default:
		bucket = now.Format("2006-01-02")
	}
	return keyPrefix + orgID + ":" + counter + ":" + bucket
}

// Close shuts down the Redis connection.
func (l *Limiter) Close() error {
	return l.rdb.Close()
}
