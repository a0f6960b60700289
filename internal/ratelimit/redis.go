package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamspace/streamspace/api/internal/logger"
)

// consumeScript atomically decrements a points counter and checks/sets a
// block flag in one round trip. KEYS[1] is the points counter, KEYS[2]
// is the block flag. ARGV: cost, pointsPerMinute, windowSeconds, blockMs.
// Tripping a block also drops the points counter, so the bucket is full
// again once the block lapses.
var consumeScript = redis.NewScript(`
local pointsKey = KEYS[1]
local blockKey = KEYS[2]
local cost = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
local windowSeconds = tonumber(ARGV[3])
local blockMs = tonumber(ARGV[4])

if redis.call("EXISTS", blockKey) == 1 then
	local ttl = redis.call("PTTL", blockKey)
	return {0, ttl}
end

local remaining = redis.call("GET", pointsKey)
if remaining == false then
	remaining = cap
else
	remaining = tonumber(remaining)
end

if remaining < cost then
	if blockMs > 0 then
		redis.call("SET", blockKey, "1", "PX", blockMs)
		redis.call("DEL", pointsKey)
	end
	return {0, blockMs}
end

remaining = remaining - cost
redis.call("SET", pointsKey, remaining, "EX", windowSeconds)
return {1, 0}
`)

// Shared is a Redis-backed Limiter, giving every relay instance a
// consistent view of each (class, identity) bucket. Grounded in the
// connection-pooled go-redis client the cache package already wraps.
type Shared struct {
	client  *redis.Client
	classes map[Class]ClassConfig
	prefix  string
	fallback *InProcess
	fallbackLogged sync.Once
}

// NewShared builds a Redis-backed limiter. It does not contact Redis;
// Consume falls back to an in-process backend whenever a Redis call fails.
func NewShared(client *redis.Client, classes map[Class]ClassConfig, keyPrefix string) *Shared {
	return &Shared{client: client, classes: classes, prefix: keyPrefix, fallback: NewInProcess(classes)}
}

func (s *Shared) keys(class Class, identity string) (string, string) {
	base := fmt.Sprintf("%s:ratelimit:%s:%s", s.prefix, class, identity)
	return base + ":points", base + ":blocked"
}

// Consume attempts to charge cost points against the shared Redis bucket,
// falling back to the in-process backend (and logging the first such
// failure) if Redis is unreachable.
func (s *Shared) Consume(ctx context.Context, class Class, identity string, cost float64) (Decision, error) {
	cfg := s.classes[class]
	pointsKey, blockKey := s.keys(class, identity)

	res, err := consumeScript.Run(ctx, s.client, []string{pointsKey, blockKey},
		cost, cfg.PointsPerMinute, 60, int64(cfg.BlockDuration/time.Millisecond)).Result()
	if err != nil {
		s.fallbackLogged.Do(func() {
			logger.RateLimit().Warn().Err(err).Str("class", string(class)).
				Msg("shared rate-limit backend unreachable, falling back to in-process")
		})
		return s.fallback.Consume(ctx, class, identity, cost)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{Allowed: true}, nil
	}

	allowed, _ := values[0].(int64)
	retryMs, _ := values[1].(int64)
	if allowed == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(retryMs) * time.Millisecond}, nil
}
