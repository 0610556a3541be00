// redis_store.go implements CounterStore on Redis so rate-limit state is shared
// across server instances. The increment runs as a single Lua script, which
// Redis executes atomically: two racing requests always observe distinct
// post-increment counts, closing the read-modify-write gap a GET/SET sequence
// would have.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the key and stamps the window TTL on first use within
// a window. It returns {count, remaining_ttl_ms} so the caller can reconstruct
// the window start without a second round trip.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    return {count, tonumber(ARGV[1])}
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore is a CounterStore backed by a shared Redis instance.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a RedisStore. keyPrefix namespaces the counters so the
// limiter can share a Redis database with other consumers (e.g. the GCRA
// throttle middleware).
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "adminguard:ratelimit:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Incr implements CounterStore.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (Counter, error) {
	result, err := incrScript.Run(ctx, s.client, []string{s.keyPrefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return Counter{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return Counter{}, fmt.Errorf("ratelimit: unexpected incr script reply %v", result)
	}
	count, _ := values[0].(int64)
	ttlMillis, _ := values[1].(int64)

	return Counter{
		Count:       count,
		WindowStart: windowStartFromTTL(time.Now(), window, ttlMillis),
	}, nil
}

// Get implements CounterStore.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Get(ctx, s.keyPrefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	return count, nil
}

// Reset implements CounterStore.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis del: %w", err)
	}
	return nil
}

// windowStartFromTTL reconstructs when a window began given how much of it is
// left. A non-positive TTL means the key was just created, so the window
// started now.
func windowStartFromTTL(now time.Time, window time.Duration, ttlMillis int64) time.Time {
	remaining := time.Duration(ttlMillis) * time.Millisecond
	if remaining <= 0 || remaining > window {
		return now
	}
	return now.Add(remaining - window)
}
