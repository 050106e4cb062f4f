package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// AlarmStore 房间回收闹钟的持久化标记。
// 进程内的定时器负责正常回收；进程重启后由 sweeper 通过 Due 找回到期的房间。
type AlarmStore interface {
	Arm(ctx context.Context, roomID string, deadline time.Time) error
	Disarm(ctx context.Context, roomID string) error
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
}

type redisAlarms struct {
	rdb redis.UniversalClient
}

func NewRedisAlarms(rdb redis.UniversalClient) AlarmStore {
	return &redisAlarms{rdb: rdb}
}

func (a *redisAlarms) Arm(ctx context.Context, roomID string, deadline time.Time) error {
	return a.rdb.ZAdd(ctx, alarmsKey(), redis.Z{Score: float64(deadline.UnixMilli()), Member: roomID}).Err()
}

func (a *redisAlarms) Disarm(ctx context.Context, roomID string) error {
	return a.rdb.ZRem(ctx, alarmsKey(), roomID).Err()
}

func (a *redisAlarms) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := a.rdb.ZRangeByScore(ctx, alarmsKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return ids, err
}
