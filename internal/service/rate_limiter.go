package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	redisclient "github.com/vibely/realtime-server-go/internal/redis"
)

// rateLimitScript is a Lua script for sliding window rate limiting
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

return {1, limit - count - 1, now + window}
`)

type LimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	// Degraded is set when redis could not be consulted.
	Degraded bool
}

// RateLimiter is a sliding window limiter shared across processes through redis.
type RateLimiter struct {
	client     redis.Scripter
	failClosed bool
}

// NewRateLimiter builds a limiter that lets traffic through when redis errors.
func NewRateLimiter(client redis.Scripter) *RateLimiter {
	return &RateLimiter{client: client}
}

// NewStrictRateLimiter builds a limiter that denies when redis errors.
func NewStrictRateLimiter(client redis.Scripter) *RateLimiter {
	return &RateLimiter{client: client, failClosed: true}
}

// CheckLimit records one hit for scope/subject and reports whether it fits.
func (rl *RateLimiter) CheckLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) LimitResult {
	now := time.Now()
	key := redisclient.RateLimitKey(scope, subject)

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{key},
		now.Unix(),
		int64(window.Seconds()),
		limit,
	).Int64Slice()

	if err != nil || len(result) != 3 {
		log.Warn().
			Err(err).
			Str("key", key).
			Bool("failClosed", rl.failClosed).
			Msg("rate limit check failed")
		if rl.failClosed {
			return LimitResult{Allowed: false, ResetAt: now.Add(window), Degraded: true}
		}
		return LimitResult{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(window), Degraded: true}
	}

	return LimitResult{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		ResetAt:   time.Unix(result[2], 0),
	}
}
