package ratelimit

import (
	"sync"
	"time"
)

type Config struct {
	Capacity       int
	RefillAmount   int
	RefillInterval time.Duration
	// 拒绝时返回的最小等待时间
	MinRetryAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:       300,
		RefillAmount:   5000,
		RefillInterval: 5 * time.Second,
		MinRetryAfter:  time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.RefillAmount <= 0 {
		c.RefillAmount = d.RefillAmount
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = d.RefillInterval
	}
	if c.MinRetryAfter <= 0 {
		c.MinRetryAfter = d.MinRetryAfter
	}
	return c
}

// Bucket 单个 key 的令牌桶。
// 被查询时如果没有挂起的补充定时器就挂一个；补充后仍未满则继续挂。
type Bucket struct {
	mu       sync.Mutex
	cfg      Config
	clock    Clock
	tokens   int
	timer    Timer
	refillAt time.Time
	stopped  bool
}

func newBucket(cfg Config, clock Clock) *Bucket {
	return &Bucket{cfg: cfg, clock: clock, tokens: cfg.Capacity}
}

// CheckAndConsume 有令牌时消耗一个并返回 0；否则返回建议的等待时间（>0）
func (b *Bucket) CheckAndConsume() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.timer == nil && !b.stopped {
		b.armLocked()
	}
	if b.tokens > 0 {
		b.tokens--
		return 0
	}
	wait := b.cfg.MinRetryAfter
	if b.timer != nil {
		if until := b.refillAt.Sub(b.clock.Now()); until > wait {
			wait = until
		}
	}
	return wait
}

// Tokens 当前剩余令牌数
func (b *Bucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func (b *Bucket) armLocked() {
	b.refillAt = b.clock.Now().Add(b.cfg.RefillInterval)
	b.timer = b.clock.AfterFunc(b.cfg.RefillInterval, b.refill)
}

func (b *Bucket) refill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	if b.stopped {
		return
	}
	b.tokens += b.cfg.RefillAmount
	if b.tokens > b.cfg.Capacity {
		b.tokens = b.cfg.Capacity
	}
	if b.tokens < b.cfg.Capacity {
		b.armLocked()
	}
}

func (b *Bucket) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
