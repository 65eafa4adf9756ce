package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes atomically. Bucket state lives in a
// hash {tokens, last_refill}; numbers travel as strings because Redis
// truncates Lua numbers to integers in replies.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

local elapsed = math.max(0, now - last_refill)
tokens = math.min(capacity, tokens + (elapsed * refill_rate))

local allowed = 0
if tokens >= cost then
	tokens = tokens - cost
	allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_refill', tostring(now))
redis.call('EXPIRE', key, ttl)
return {allowed, tostring(tokens)}
`)

// RedisStore keeps token buckets in Redis so replicas share limits.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore wraps an existing client. Keys are written as
// "<prefix>:<client key>".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "reportd:ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: time.Hour, now: time.Now}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit: redis ping %s: %w", addr, err)
	}
	return NewRedisStore(client, ""), nil
}

func (s *RedisStore) Allow(ctx context.Context, key string, capacity, refillRate float64) (bool, float64, error) {
	return s.take(ctx, key, capacity, refillRate, 1)
}

func (s *RedisStore) Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error) {
	_, remaining, err := s.take(ctx, key, capacity, refillRate, 0)
	return remaining, err
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// PingContext checks the Redis connection.
func (s *RedisStore) PingContext(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(k string) string { return s.prefix + ":" + k }

func (s *RedisStore) take(ctx context.Context, key string, capacity, refillRate, cost float64) (bool, float64, error) {
	now := float64(s.now().UnixMicro()) / 1e6
	vals, err := tokenBucketScript.Run(ctx, s.client, []string{s.key(key)},
		capacity, refillRate, now, cost, int(s.ttl.Seconds())).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: redis eval: %w", err)
	}
	if len(vals) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script reply %v", vals)
	}
	allowed, _ := vals[0].(int64)
	tokensStr, _ := vals[1].(string)
	remaining, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: parse remaining %q: %w", tokensStr, err)
	}
	return allowed == 1, remaining, nil
}
