package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"canvasService/backend/internal/canvas"
)

// roomServer 记录收到的帧，并把服务端连接交给测试控制
type roomServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	recv  chan canvas.Message
}

func newRoomServer(t *testing.T) *roomServer {
	t.Helper()
	rs := &roomServer{conns: make(chan *websocket.Conn, 8), recv: make(chan canvas.Message, 32)}
	up := websocket.Upgrader{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rs.conns <- c
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			if msg, err := canvas.Decode(data); err == nil {
				rs.recv <- msg
			}
		}
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *roomServer) url() string {
	return "ws" + strings.TrimPrefix(rs.srv.URL, "http")
}

func (rs *roomServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-rs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no connection")
	}
	return nil
}

func (rs *roomServer) nextMsg(t *testing.T) canvas.Message {
	t.Helper()
	select {
	case m := <-rs.recv:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no message")
	}
	return canvas.Message{}
}

type recordingHandler struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	messages    [][]byte
	connected   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{connected: make(chan struct{}, 8)}
}

func (h *recordingHandler) OnConnect() {
	h.mu.Lock()
	h.connects++
	h.mu.Unlock()
	h.connected <- struct{}{}
}

func (h *recordingHandler) OnDisconnect(error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
}

func (h *recordingHandler) OnMessage(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, data)
}

func (h *recordingHandler) waitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-h.connected:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnConnect not called")
	}
}

func fastOptions(url string) Options {
	return Options{URL: url, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestManager_RunSendsRefreshRequestAndReconnects(t *testing.T) {
	rs := newRoomServer(t)
	h := newRecordingHandler()
	m := NewManager(fastOptions(rs.url()), h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	first := rs.nextConn(t)
	h.waitConnected(t)
	if msg := rs.nextMsg(t); msg.Type != canvas.TypeRefreshRequest {
		t.Fatalf("first frame = %+v, want refresh_request", msg)
	}

	// 服务端推一条消息
	if err := first.WriteJSON(canvas.RefreshMessage(nil)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	// 服务端断开，客户端应重连并再次请求全量
	first.Close()
	rs.nextConn(t)
	h.waitConnected(t)
	if msg := rs.nextMsg(t); msg.Type != canvas.TypeRefreshRequest {
		t.Fatalf("frame after reconnect = %+v, want refresh_request", msg)
	}

	h.mu.Lock()
	if h.disconnects != 1 || h.connects != 2 || len(h.messages) != 1 {
		t.Fatalf("handler = connects %d disconnects %d messages %d", h.connects, h.disconnects, len(h.messages))
	}
	h.mu.Unlock()
	if m.Attempts() != 2 {
		t.Fatalf("attempts = %d, want 2 (never reset)", m.Attempts())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func TestManager_ConnectTwiceFailsFast(t *testing.T) {
	rs := newRoomServer(t)
	m := NewManager(fastOptions(rs.url()), newRecordingHandler())
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if !m.Connected() {
		t.Fatalf("Connected() = false after Connect")
	}
	if err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second Connect error = %v, want ErrAlreadyConnected", err)
	}
}

func TestManager_SendIsDroppedWhileDisconnected(t *testing.T) {
	rs := newRoomServer(t)
	m := NewManager(fastOptions(rs.url()), newRecordingHandler())
	defer m.Close()

	if m.Send(canvas.UndoMessage("A")) {
		t.Fatalf("Send succeeded without a connection")
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if !m.Send(canvas.UndoMessage("A")) {
		t.Fatalf("Send failed while connected")
	}
	// 断线期间发出的 undo 不会被补发，服务端只收到这一条
	if msg := rs.nextMsg(t); msg.Type != canvas.TypeUndo || msg.UserID != "A" {
		t.Fatalf("server got %+v", msg)
	}
	select {
	case extra := <-rs.recv:
		t.Fatalf("unexpected replayed frame %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	rs := newRoomServer(t)
	url := rs.url()
	rs.srv.Close()

	opts := fastOptions(url)
	opts.MaxAttempts = 3
	m := NewManager(opts, newRecordingHandler())
	err := m.Run(context.Background())
	if !errors.Is(err, ErrGaveUp) {
		t.Fatalf("Run error = %v, want ErrGaveUp", err)
	}
	if m.Attempts() != 3 {
		t.Fatalf("attempts = %d, want 3", m.Attempts())
	}
}

func TestManager_BackoffIsCapped(t *testing.T) {
	m := NewManager(Options{
		URL:         "ws://unused",
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  time.Second,
		Rand:        func() float64 { return 0.5 },
	}, newRecordingHandler())

	if d := m.backoff(0); d != 50*time.Millisecond {
		t.Fatalf("backoff(0) = %v, want 50ms", d)
	}
	if d := m.backoff(3); d != 400*time.Millisecond {
		t.Fatalf("backoff(3) = %v, want 400ms", d)
	}
	if d := m.backoff(10); d != time.Second {
		t.Fatalf("backoff(10) = %v, want capped 1s", d)
	}
	if d := m.backoff(5000); d != time.Second {
		t.Fatalf("backoff(5000) = %v, want capped 1s", d)
	}
}

func TestManager_CloseStopsRun(t *testing.T) {
	rs := newRoomServer(t)
	h := newRecordingHandler()
	m := NewManager(fastOptions(rs.url()), h)
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	h.waitConnected(t)

	m.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after Close = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Close")
	}
}
