package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"canvasService/backend/internal/canvas"
)

var (
	ErrAlreadyConnected = errors.New("client: already connected or connecting")
	ErrClosed           = errors.New("client: manager closed")
	ErrGaveUp           = errors.New("client: gave up reconnecting")
)

// Handler 连接生命周期回调，都在 Run 的 goroutine 里调用
type Handler interface {
	OnConnect()
	OnDisconnect(err error)
	OnMessage(data []byte)
}

type Options struct {
	URL         string
	Header      http.Header
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// 0 表示无限重连
	MaxAttempts int
	Dialer      *websocket.Dialer
	// 返回 [0,1) 的随机数，测试时可替换
	Rand func() float64
}

// Manager 维护到房间的单条连接：退避重连、连上后请求全量同步、发送即丢（断线期间不排队）
type Manager struct {
	opts    Options
	handler Handler

	mu      sync.Mutex
	conn    *websocket.Conn
	dialing bool
	attempt int
	closed  bool

	writeMu sync.Mutex
}

func NewManager(opts Options, h Handler) *Manager {
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	return &Manager{opts: opts, handler: h}
}

// backoff rand*base*2^attempt，上限 MaxBackoff
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.opts.Rand() * float64(m.opts.BaseBackoff) * math.Pow(2, float64(attempt))
	if d > float64(m.opts.MaxBackoff) || math.IsInf(d, 0) || math.IsNaN(d) {
		return m.opts.MaxBackoff
	}
	return time.Duration(d)
}

// Connect 等待一个退避时间后拨号。已连接或正在拨号时立刻返回 ErrAlreadyConnected。
// 尝试计数每次调用都加一，连上之后也不清零。
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.conn != nil || m.dialing {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.dialing = true
	delay := m.backoff(m.attempt)
	m.attempt++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.dialing = false
		m.mu.Unlock()
	}()

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	conn, _, err := m.opts.Dialer.DialContext(ctx, m.opts.URL, m.opts.Header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		conn.Close()
		return ErrClosed
	}
	m.conn = conn
	return nil
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Attempts 到目前为止的连接尝试次数
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Send 编码并发送一条消息；未连接或写失败时丢弃并返回 false
func (m *Manager) Send(v any) bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return false
	}
	frame, err := canvas.Encode(v)
	if err != nil {
		log.Printf("client encode: %v", err)
		return false
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		// 让读循环尽快发现断线
		conn.Close()
		return false
	}
	return true
}

// Run 连接 -> OnConnect -> refresh_request -> 读到断开 -> OnDisconnect -> 重连，直到 ctx 结束或 Close
func (m *Manager) Run(ctx context.Context) error {
	failures := 0
	for {
		if err := m.Connect(ctx); err != nil {
			switch {
			case errors.Is(err, ErrClosed):
				return nil
			case errors.Is(err, ErrAlreadyConnected):
				return err
			case ctx.Err() != nil:
				return ctx.Err()
			}
			failures++
			log.Printf("connect attempt %d failed: %v", m.Attempts(), err)
			if m.opts.MaxAttempts > 0 && failures >= m.opts.MaxAttempts {
				return fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, failures, err)
			}
			continue
		}
		failures = 0

		m.handler.OnConnect()
		m.Send(canvas.RefreshRequestMessage())
		err := m.readLoop(ctx)
		m.dropConn()
		m.handler.OnDisconnect(err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return nil
		}
	}
}

func (m *Manager) readLoop(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt == websocket.TextMessage {
			m.handler.OnMessage(data)
		}
	}
}

func (m *Manager) dropConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Close 断开并停止重连
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.writeMu.Unlock()
		conn.Close()
	}
}
