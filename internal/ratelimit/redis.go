package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/pkg/logger"
)

// allowScript counts requests in the sliding window and records the new one
// only when under the limit. Returns {1} when allowed, {0, oldest_score_ms}
// when denied.
var allowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  return {0, oldest[2]}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1}
`)

// RedisLimiter implements Limiter with one ZSET per tenant, member per
// request, scored by arrival time in milliseconds.
type RedisLimiter struct {
	rdb    *redis.Client
	window time.Duration
	log    *slog.Logger
}

func NewRedisLimiter(rdb *redis.Client, cfg *config.Config, log *slog.Logger) *RedisLimiter {
	return &RedisLimiter{
		rdb:    rdb,
		window: cfg.RateLimit.Window(),
		log:    log.With(logger.Scope("ratelimit")),
	}
}

func limiterKey(tenantID string) string {
	return fmt.Sprintf("ratelimit:%s", tenantID)
}

func (l *RedisLimiter) Allow(ctx context.Context, tenantID string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	nowMs := time.Now().UnixMilli()
	res, err := allowScript.Run(ctx, l.rdb,
		[]string{limiterKey(tenantID)},
		nowMs,
		l.window.Milliseconds(),
		limit,
		uuid.New().String(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}

	allowed, _ := res[0].(int64)
	if allowed == 1 {
		return Decision{Allowed: true}, nil
	}

	// Denied: the slot frees up when the oldest entry ages out.
	var oldestMs int64
	if len(res) > 1 {
		switch v := res[1].(type) {
		case int64:
			oldestMs = v
		case string:
			oldestMs, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	retryAfter := time.Duration(oldestMs+l.window.Milliseconds()-nowMs) * time.Millisecond
	if retryAfter < 0 {
		retryAfter = 0
	}

	l.log.Debug("request rate limited",
		slog.String("tenant_id", tenantID),
		slog.Int("limit", limit),
		slog.Duration("retry_after", retryAfter),
	)
	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

func (l *RedisLimiter) Usage(ctx context.Context, tenantID string) (int, error) {
	nowMs := time.Now().UnixMilli()
	key := limiterKey(tenantID)
	if err := l.rdb.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(nowMs-l.window.Milliseconds(), 10)).Err(); err != nil {
		return 0, fmt.Errorf("trim rate limit window: %w", err)
	}
	n, err := l.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("count rate limit window: %w", err)
	}
	return int(n), nil
}
