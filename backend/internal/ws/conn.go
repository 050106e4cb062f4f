package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"canvasService/backend/internal/cache"
	"canvasService/backend/internal/room"
)

// Conn 一条 websocket 连接：读循环把帧交给房间，写循环消费发送队列。
// 实现 room.Socket。
type Conn struct {
	id     string
	uid    string
	roomID string
	opts   *Options

	ws       *websocket.Conn
	room     *room.Room
	presence cache.PresenceCache

	send chan []byte

	mu       sync.Mutex
	isClosed bool
	closed   chan struct{}
}

var _ room.Socket = (*Conn)(nil)

func newConn(uid, roomID string, opts *Options, presence cache.PresenceCache) *Conn {
	return &Conn{
		id:       uuid.NewString(),
		uid:      uid,
		roomID:   roomID,
		opts:     opts,
		presence: presence,
		send:     make(chan []byte, opts.SendQueue),
		closed:   make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Send 非阻塞入队；队列满由房间决定断开
func (c *Conn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		return
	}
	c.isClosed = true
	close(c.closed)
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		// WriteControl 和 Close 可以与读写并发调用
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"),
			time.Now().Add(c.opts.WriteWait))
		_ = ws.Close()
	}
}

// attach 升级成功后挂上底层连接；升级前房间就可能已经把它关了
func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws = ws
	return !c.isClosed
}

func (c *Conn) touchPresence() {
	if c.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.presence.Touch(ctx, c.roomID, c.uid, c.opts.PresenceTTL); err != nil {
		log.Printf("presence touch room=%s uid=%s: %v", c.roomID, c.uid, err)
	}
}

func (c *Conn) leavePresence() {
	if c.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.presence.Leave(ctx, c.roomID, c.uid); err != nil {
		log.Printf("presence leave room=%s uid=%s: %v", c.roomID, c.uid, err)
	}
}

func (c *Conn) readLoop() {
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		c.touchPresence()
		return nil
	})
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("read error (room=%s conn=%s): %v", c.roomID, c.id, err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if err := c.room.Deliver(context.Background(), c, data); err != nil {
			log.Printf("deliver (room=%s conn=%s): %v", c.roomID, c.id, err)
			return
		}
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}
