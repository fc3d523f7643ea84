package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingLogLua prunes, counts and appends in one step so concurrent
// processes cannot both pass the check before either writes.
// KEYS[1] = sorted set key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = max requests
// ARGV[4] = member
// Returns 1 when admitted, 0 when rejected.
var slidingLogLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= max then
  return 0
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return 1
`)

// RedisLimiter shares request logs between processes through Redis. Keys
// expire with their window, so no sweep is needed.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{redis: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, identity string, p Policy) error {
	admitted, err := slidingLogLua.Run(ctx, l.redis,
		[]string{l.prefix + ":" + key(identity, p)},
		l.now().UnixMilli(),
		p.Window.Milliseconds(),
		p.Max,
		uuid.NewString(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if admitted == 0 {
		return exceeded(p)
	}
	return nil
}
