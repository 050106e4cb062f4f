package cache

import "fmt"

// 键语义：
// - roomKey(roomID):   房间在线成员（ZSet<uid, expireAtUnix>，score=expireAt）
// - roomsKey():        有过在线成员的房间索引（Set<roomID>）
// - alarmsKey():       房间回收闹钟（ZSet<roomID, deadlineUnixMilli>）
// - bucketKey(key):    分布式令牌桶（Hash{tokens, ts}）

const (
	keyRoomFmt   = "canvas:presence:{room:%s}"
	keyRoomsSet  = "canvas:presence:rooms"
	keyAlarms    = "canvas:alarms"
	keyBucketFmt = "canvas:ratelimit:{%s}"
)

func roomKey(roomID string) string { return fmt.Sprintf(keyRoomFmt, roomID) }
func roomsKey() string             { return keyRoomsSet }
func alarmsKey() string            { return keyAlarms }

// BucketKey 供 ratelimit 包使用
func BucketKey(key string) string { return fmt.Sprintf(keyBucketFmt, key) }
