package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type PresenceCache interface {
	Touch(ctx context.Context, roomID, uid string, ttl time.Duration) error
	Leave(ctx context.Context, roomID, uid string) error
	Members(ctx context.Context, roomID string) ([]string, error)
	Rooms(ctx context.Context) ([]string, error)
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// Touch 加入房间或刷新在线 TTL（pong 时调用）
func (p *redisPresence) Touch(ctx context.Context, roomID, uid string, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	// score 使用 expireAt（Unix 秒），表达“逻辑 TTL”
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(roomID), redis.Z{Score: float64(expireAt), Member: uid})
	tx.SAdd(ctx, roomsKey(), roomID)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) Leave(ctx context.Context, roomID, uid string) error {
	return p.rdb.ZRem(ctx, roomKey(roomID), uid).Err()
}

const purgeExpiredScript = `
-- KEYS[1] = roomKey(roomID)
-- KEYS[2] = roomsKey()
-- ARGV[1] = now (unix seconds)
-- ARGV[2] = roomID
local n = redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if redis.call("ZCARD", KEYS[1]) == 0 then
	redis.call("SREM", KEYS[2], ARGV[2])
end
return n
`

var purgeExpired = redis.NewScript(purgeExpiredScript)

// Members 先清理过期成员，再返回仍在线的 uid
func (p *redisPresence) Members(ctx context.Context, roomID string) ([]string, error) {
	now := time.Now().Unix()
	_, err := purgeExpired.Run(ctx, p.rdb, []string{roomKey(roomID), roomsKey()}, now, roomID).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	alive, err := p.rdb.ZRangeByScore(ctx, roomKey(roomID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return alive, nil
}

func (p *redisPresence) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := p.rdb.SMembers(ctx, roomsKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return rooms, nil
}
