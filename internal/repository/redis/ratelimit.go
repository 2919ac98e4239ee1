package redisrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisx "github.com/kirinyoku/tixflow/internal/redis"
	"github.com/redis/go-redis/v9"
)

// Sliding window over a sorted set of request timestamps.
// KEYS[1] = key
// ARGV[1] = now_ms
// ARGV[2] = window_ms
// ARGV[3] = limit
// ARGV[4] = member (unique)
const luaSlidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
redis.call('ZADD', key, 'NX', now, member)
local count = redis.call('ZCARD', key)
redis.call('PEXPIRE', key, window)

if count > limit then
  redis.call('ZREM', key, member)
  local earliest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local earliestScore = tonumber(earliest[2]) or (now - window)
  local retry_ms = window - (now - earliestScore)
  if retry_ms < 0 then retry_ms = 0 end
  return {0, count - 1, retry_ms}
end
return {1, count, 0}
`

// SlidingWindowLimiter allows at most limit calls per key within window.
type SlidingWindowLimiter struct {
	rdb    *redis.Client
	scope  string
	limit  int
	window time.Duration
	script *redis.Script
	now    func() time.Time
}

func NewSlidingWindowLimiter(
	rdb *redis.Client,
	scope string,
	limit int,
	window time.Duration,
) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rdb:    rdb,
		scope:  scope,
		limit:  limit,
		window: window,
		script: redis.NewScript(luaSlidingWindow),
		now:    time.Now,
	}
}

// Allow records one call for id. A rejected call is not counted.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, id string) (allowed bool, retryAfter time.Duration, err error) {
	const op = "redis.SlidingWindowLimiter.Allow"

	res, err := l.script.Run(
		ctx,
		l.rdb,
		[]string{redisx.KeyRateLimit(l.scope, id)},
		l.now().UnixMilli(), l.window.Milliseconds(), l.limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}

	if len(res) != 3 {
		return false, 0, fmt.Errorf("%s: bad script result: %v", op, res)
	}

	return res[0] == 1, time.Duration(res[2]) * time.Millisecond, nil
}
