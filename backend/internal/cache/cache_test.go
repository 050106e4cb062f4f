package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 15}) // 独立库，各包测试互不 FlushDB
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	})
	return rdb
}

func TestPresence_TouchMembersLeave(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	p := NewRedisPresence(rdb)

	if err := p.Touch(ctx, "r1", "u1", time.Minute); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	if err := p.Touch(ctx, "r1", "u2", time.Minute); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	members, err := p.Members(ctx, "r1")
	if err != nil {
		t.Fatalf("Members error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("Members = %v, want 2 entries", members)
	}

	if err := p.Leave(ctx, "r1", "u1"); err != nil {
		t.Fatalf("Leave error: %v", err)
	}
	members, _ = p.Members(ctx, "r1")
	if len(members) != 1 || members[0] != "u2" {
		t.Fatalf("Members after leave = %v, want [u2]", members)
	}

	rooms, err := p.Rooms(ctx)
	if err != nil {
		t.Fatalf("Rooms error: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != "r1" {
		t.Fatalf("Rooms = %v, want [r1]", rooms)
	}
}

func TestPresence_ExpiredMembersPurged(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	p := NewRedisPresence(rdb)

	// 过期时间在过去
	if err := p.Touch(ctx, "r2", "ghost", -time.Minute); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	members, err := p.Members(ctx, "r2")
	if err != nil {
		t.Fatalf("Members error: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("Members = %v, want none", members)
	}
	if n := rdb.ZCard(ctx, roomKey("r2")).Val(); n != 0 {
		t.Fatalf("expired member still stored, zcard=%d", n)
	}
	if rdb.SIsMember(ctx, roomsKey(), "r2").Val() {
		t.Fatalf("empty room still indexed")
	}
}

func TestAlarms_DueAndDisarm(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	a := NewRedisAlarms(rdb)
	now := time.Now()

	if err := a.Arm(ctx, "past", now.Add(-time.Second)); err != nil {
		t.Fatalf("Arm error: %v", err)
	}
	if err := a.Arm(ctx, "future", now.Add(time.Hour)); err != nil {
		t.Fatalf("Arm error: %v", err)
	}
	due, err := a.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due error: %v", err)
	}
	if len(due) != 1 || due[0] != "past" {
		t.Fatalf("Due = %v, want [past]", due)
	}

	if err := a.Disarm(ctx, "past"); err != nil {
		t.Fatalf("Disarm error: %v", err)
	}
	due, _ = a.Due(ctx, now, 10)
	if len(due) != 0 {
		t.Fatalf("Due after disarm = %v", due)
	}

	// 再次 Arm 会覆盖 deadline
	if err := a.Arm(ctx, "future", now.Add(-time.Minute)); err != nil {
		t.Fatalf("re-Arm error: %v", err)
	}
	due, _ = a.Due(ctx, now, 10)
	if len(due) != 1 || due[0] != "future" {
		t.Fatalf("Due after re-arm = %v, want [future]", due)
	}
}
