package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"canvasService/backend/internal/cache"
)

// 惰性补充：按经过的完整周期数补充令牌，时间取 Redis 服务器时间，多实例共享同一个桶
const takeTokenScript = `
-- KEYS[1] = bucket key (Hash{tokens, ts})
-- ARGV[1] = capacity
-- ARGV[2] = refill amount
-- ARGV[3] = refill interval (ms)
-- ARGV[4] = min retry after (ms)
-- ARGV[5] = key ttl (ms)
local cap = tonumber(ARGV[1])
local amount = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local t = redis.call("TIME")
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local tokens = tonumber(redis.call("HGET", KEYS[1], "tokens"))
local ts = tonumber(redis.call("HGET", KEYS[1], "ts"))
if tokens == nil or ts == nil then
	tokens = cap
	ts = now
end
local n = math.floor((now - ts) / interval)
if n > 0 then
	tokens = math.min(cap, tokens + n * amount)
	ts = ts + n * interval
end
if tokens >= cap then
	ts = now
end

local wait = 0
if tokens > 0 then
	tokens = tokens - 1
else
	wait = math.max(tonumber(ARGV[4]), interval - (now - ts))
end
redis.call("HSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return wait
`

var takeToken = redis.NewScript(takeTokenScript)

// RedisLimiter 多实例部署时共享的令牌桶
type RedisLimiter struct {
	rdb redis.UniversalClient
	cfg Config
}

var _ Admitter = (*RedisLimiter)(nil)

func NewRedisLimiter(rdb redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, cfg: cfg.withDefaults()}
}

func (l *RedisLimiter) Admit(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	interval := l.cfg.RefillInterval.Milliseconds()
	// 桶满所需的周期数 +1 之后过期，过期等价于满桶
	periods := int64((l.cfg.Capacity+l.cfg.RefillAmount-1)/l.cfg.RefillAmount) + 1
	waitMs, err := takeToken.Run(ctx, l.rdb, []string{cache.BucketKey(key)},
		l.cfg.Capacity,
		l.cfg.RefillAmount,
		interval,
		l.cfg.MinRetryAfter.Milliseconds(),
		interval*periods,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis admit %s: %w", key, err)
	}
	return time.Duration(waitMs) * time.Millisecond, nil
}
