package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrEmptyKey = errors.New("ratelimit: empty admission key")

// Admitter 连接准入：wait==0 表示放行，>0 表示拒绝并建议的重试等待
type Admitter interface {
	Admit(ctx context.Context, key string) (time.Duration, error)
}

// Limiter 进程内的按 key 令牌桶，桶惰性创建，不回收
type Limiter struct {
	cfg   Config
	clock Clock

	mu      sync.Mutex
	buckets map[string]*Bucket
}

var _ Admitter = (*Limiter)(nil)

type Option func(*Limiter)

func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

func NewLimiter(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:     cfg.withDefaults(),
		clock:   realClock{},
		buckets: make(map[string]*Bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Admit(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	return l.bucket(key).CheckAndConsume(), nil
}

func (l *Limiter) bucket(key string) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.cfg, l.clock)
		l.buckets[key] = b
	}
	return b
}

// Stop 停掉所有挂起的补充定时器（关停时调用）
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.buckets {
		b.stop()
	}
}
