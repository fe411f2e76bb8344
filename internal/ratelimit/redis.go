package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailflow/internal/pkg/logger"
)

// Lua script for an atomic fixed-window check-and-increment.
// Prevents the race in GET → check → INCR patterns.
const windowLimitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = redis.call("INCR", key)
if current == 1 then
    redis.call("EXPIRE", key, ttl)
end

if current > limit then
    return {0, current}
end
return {1, current}
`

// RedisLimiter counts senders in Redis using a pre-compiled Lua script.
// Backend failures fail open, matching the DynamoDB limiter.
type RedisLimiter struct {
	redis  *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRedisLimiter creates a limiter over an existing Redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		redis:  client,
		script: redis.NewScript(windowLimitLuaScript),
		now:    time.Now,
	}
}

// NewRedisLimiterFromURL creates a limiter by connecting to Redis.
func NewRedisLimiterFromURL(redisURL string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisLimiter(client), nil
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, sender string, limit int, window time.Duration) (bool, error) {
	now := l.now()
	key := fmt.Sprintf("ratelimit:sender:%s:%d", sender, windowStart(now, window))
	ttl := int64(window/time.Second) + int64(ttlBuffer/time.Second)

	result, err := l.script.Run(ctx, l.redis, []string{key}, limit, ttl).Slice()
	if err != nil {
		logger.Warn("rate limiter unavailable, allowing", "sender", sender, "error", err.Error())
		return true, nil
	}

	allowed, ok := result[0].(int64)
	if !ok {
		return true, nil
	}
	return allowed == 1, nil
}

// Client exposes the underlying Redis client for components that share
// the connection.
func (l *RedisLimiter) Client() *redis.Client {
	return l.redis
}

// Close closes the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.redis.Close()
}
