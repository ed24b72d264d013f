package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout:
//
//	queue:{stage}:{tenant}   ZSET   job id -> score
//	queue:{stage}:tenants    SET    tenants with queued work
//	sched:{stage}:last_served        rotation pointer
//	sched:{stage}:inflight:{tenant}  in-flight counter
//
// The tenant registry is maintained alongside the ZSET so ActiveTenants never
// has to SCAN. Pop removes the tenant from the registry once its queue drains.

// popScript atomically pops the lowest-scoring member whose score is due, and
// retires the tenant from the registry when the queue is empty.
var popScript = redis.NewScript(`
local member = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #member == 0 then
  if redis.call('ZCARD', KEYS[1]) == 0 then
    redis.call('SREM', KEYS[2], ARGV[2])
  end
  return false
end
redis.call('ZREM', KEYS[1], member[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
  redis.call('SREM', KEYS[2], ARGV[2])
end
return member[1]
`)

// inFlightTTL bounds counter leakage if a worker dies between Incr and Decr.
const inFlightTTL = time.Hour

// RedisSubstrate implements Substrate on Redis sorted sets. All state is
// shared, so multiple worker processes cooperate on one rotation.
type RedisSubstrate struct {
	rdb *redis.Client
}

func NewRedisSubstrate(rdb *redis.Client) *RedisSubstrate {
	return &RedisSubstrate{rdb: rdb}
}

func queueKey(stage Stage, tenantID string) string {
	return fmt.Sprintf("queue:%s:%s", stage, tenantID)
}

func tenantsKey(stage Stage) string {
	return fmt.Sprintf("queue:%s:tenants", stage)
}

func lastServedKey(stage Stage) string {
	return fmt.Sprintf("sched:%s:last_served", stage)
}

func inFlightKey(stage Stage, tenantID string) string {
	return fmt.Sprintf("sched:%s:inflight:%s", stage, tenantID)
}

func (s *RedisSubstrate) Enqueue(ctx context.Context, tenantID string, stage Stage, jobID string, score float64) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, queueKey(stage, tenantID), redis.Z{Score: score, Member: jobID})
	pipe.SAdd(ctx, tenantsKey(stage), tenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", stage, tenantID, err)
	}
	return nil
}

func (s *RedisSubstrate) PopMin(ctx context.Context, tenantID string, stage Stage, now time.Time) (string, bool, error) {
	res, err := popScript.Run(ctx, s.rdb,
		[]string{queueKey(stage, tenantID), tenantsKey(stage)},
		strconv.FormatFloat(Score(now), 'f', -1, 64),
		tenantID,
	).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pop %s/%s: %w", stage, tenantID, err)
	}
	jobID, ok := res.(string)
	if !ok {
		return "", false, nil
	}
	return jobID, true, nil
}

func (s *RedisSubstrate) Remove(ctx context.Context, tenantID string, stage Stage, jobID string) error {
	if err := s.rdb.ZRem(ctx, queueKey(stage, tenantID), jobID).Err(); err != nil {
		return fmt.Errorf("remove %s/%s: %w", stage, tenantID, err)
	}
	return nil
}

func (s *RedisSubstrate) DeleteQueue(ctx context.Context, tenantID string, stage Stage) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, queueKey(stage, tenantID))
	pipe.SRem(ctx, tenantsKey(stage), tenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete queue %s/%s: %w", stage, tenantID, err)
	}
	return nil
}

func (s *RedisSubstrate) Len(ctx context.Context, tenantID string, stage Stage) (int64, error) {
	n, err := s.rdb.ZCard(ctx, queueKey(stage, tenantID)).Result()
	if err != nil {
		return 0, fmt.Errorf("len %s/%s: %w", stage, tenantID, err)
	}
	return n, nil
}

func (s *RedisSubstrate) ActiveTenants(ctx context.Context, stage Stage) ([]string, error) {
	tenants, err := s.rdb.SMembers(ctx, tenantsKey(stage)).Result()
	if err != nil {
		return nil, fmt.Errorf("active tenants %s: %w", stage, err)
	}
	return tenants, nil
}

func (s *RedisSubstrate) LastServed(ctx context.Context, stage Stage) (string, error) {
	v, err := s.rdb.Get(ctx, lastServedKey(stage)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last served %s: %w", stage, err)
	}
	return v, nil
}

func (s *RedisSubstrate) SetLastServed(ctx context.Context, stage Stage, tenantID string) error {
	if err := s.rdb.Set(ctx, lastServedKey(stage), tenantID, 0).Err(); err != nil {
		return fmt.Errorf("set last served %s: %w", stage, err)
	}
	return nil
}

func (s *RedisSubstrate) IncrInFlight(ctx context.Context, tenantID string, stage Stage) (int64, error) {
	key := inFlightKey(stage, tenantID)
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, inFlightTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr inflight %s/%s: %w", stage, tenantID, err)
	}
	return incr.Val(), nil
}

func (s *RedisSubstrate) DecrInFlight(ctx context.Context, tenantID string, stage Stage) error {
	key := inFlightKey(stage, tenantID)
	n, err := s.rdb.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("decr inflight %s/%s: %w", stage, tenantID, err)
	}
	if n <= 0 {
		s.rdb.Del(ctx, key)
	}
	return nil
}

func (s *RedisSubstrate) InFlight(ctx context.Context, tenantID string, stage Stage) (int64, error) {
	n, err := s.rdb.Get(ctx, inFlightKey(stage, tenantID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("inflight %s/%s: %w", stage, tenantID, err)
	}
	return n, nil
}
