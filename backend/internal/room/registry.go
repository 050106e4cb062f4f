package room

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"canvasService/backend/internal/cache"
	"canvasService/backend/internal/canvas"
	"canvasService/backend/internal/events"
	"canvasService/backend/internal/store"
)

type Options struct {
	Store    store.RoomStore
	Archiver store.Archiver   // 可选
	Alarms   cache.AlarmStore // 可选
	Events   events.Sink      // 可选

	IdleTimeout    time.Duration
	PersistTimeout time.Duration
	EventTimeout   time.Duration
	InboxSize      int
	SweepBatch     int64
}

const (
	DefaultIdleTimeout    = 10 * time.Minute
	DefaultPersistTimeout = 5 * time.Second
	DefaultEventTimeout   = 50 * time.Millisecond
)

// Registry 房间地址 -> 房间 goroutine，按需创建
type Registry struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

func NewRegistry(opts Options) *Registry {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = DefaultEventTimeout
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	if opts.Events == nil {
		opts.Events = events.NopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*Room),
	}
}

// 获取或创建指定房间
func (g *Registry) getOrCreate(id string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrRegistryClosed
	}
	if r := g.rooms[id]; r != nil {
		return r, nil
	}
	r := newRoom(id, g)
	g.rooms[id] = r
	g.wg.Add(1)
	go r.run()
	return r, nil
}

func (g *Registry) lookup(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[id]
}

// forget 房间 goroutine 退出前调用，只删除自己
func (g *Registry) forget(id string, r *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[id] == r {
		delete(g.rooms, id)
	}
}

// Join 把连接挂到房间上。房间第一次被加入时先加载持久化的栈，失败返回 ErrLoadFailed。
func (g *Registry) Join(ctx context.Context, id string, s Socket) (*Room, error) {
	for {
		r, err := g.getOrCreate(id)
		if err != nil {
			return nil, err
		}
		err = r.join(ctx, s)
		if errors.Is(err, ErrRoomClosed) {
			// 刚好被回收，换一个新的
			continue
		}
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Stats 只查询在内存中的房间；ok=false 表示房间当前不活跃
func (g *Registry) Stats(ctx context.Context, id string) (Stats, bool, error) {
	r := g.lookup(id)
	if r == nil {
		return Stats{}, false, nil
	}
	st, err := r.stats(ctx)
	if errors.Is(err, ErrRoomClosed) {
		return Stats{}, false, nil
	}
	return st, err == nil, err
}

// Snapshot 返回活跃房间的完整栈；ok=false 时调用方应去存储里读
func (g *Registry) Snapshot(ctx context.Context, id string) ([]canvas.PathData, bool, error) {
	r := g.lookup(id)
	if r == nil {
		return nil, false, nil
	}
	stack, loaded, err := r.snapshot(ctx)
	if errors.Is(err, ErrRoomClosed) {
		return nil, false, nil
	}
	return stack, loaded, err
}

// Len 当前内存中的房间数
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Close 停掉所有房间并等待退出
func (g *Registry) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()
	g.cancel()
	g.wg.Wait()
}

// Sweep 回收闹钟已到期的房间（进程重启后内存定时器丢失的情况）。
// 回收仍经由房间 goroutine，和正常事件串行。
func (g *Registry) Sweep(ctx context.Context, now time.Time) (int, error) {
	if g.opts.Alarms == nil {
		return 0, nil
	}
	ids, err := g.opts.Alarms.Due(ctx, now, g.opts.SweepBatch)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, id := range ids {
		r, err := g.getOrCreate(id)
		if err != nil {
			return reclaimed, err
		}
		var done bool
		err = r.call(ctx, func() error {
			var err error
			done, err = r.onAlarmDue()
			return err
		})
		if err != nil && !errors.Is(err, ErrRoomClosed) {
			log.Printf("sweep room=%s: %v", id, err)
			continue
		}
		if done {
			reclaimed++
		}
	}
	return reclaimed, nil
}

// RunSweeper 周期性调用 Sweep，直到 ctx 结束
func (g *Registry) RunSweeper(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			n, err := g.Sweep(ctx, now)
			if err != nil {
				log.Printf("sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("sweep reclaimed %d rooms", n)
			}
		}
	}
}
