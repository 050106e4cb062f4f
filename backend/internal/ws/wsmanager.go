package ws

import (
	"context"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"canvasService/backend/internal/cache"
	"canvasService/backend/internal/httpapi/middleware"
	"canvasService/backend/internal/ratelimit"
	"canvasService/backend/internal/room"
)

const maxRoomIDLen = 128

type Options struct {
	SendQueue      int
	PresenceTTL    time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	AdmitTimeout   time.Duration
	// 为空时允许任意 Origin
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = 90 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1 << 20
	}
	if o.AdmitTimeout <= 0 {
		o.AdmitTimeout = time.Second
	}
	return o
}

type Manager struct {
	rooms    *room.Registry
	admitter ratelimit.Admitter
	presence cache.PresenceCache
	opts     Options
	upgrader websocket.Upgrader
}

func NewManager(rooms *room.Registry, admitter ratelimit.Admitter, presence cache.PresenceCache, opts Options) *Manager {
	m := &Manager{
		rooms:    rooms,
		admitter: admitter,
		presence: presence,
		opts:     opts.withDefaults(),
	}
	m.upgrader = websocket.Upgrader{CheckOrigin: m.checkOrigin}
	return m
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	if len(m.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境不发送 Origin，或为 "null"
		return true
	}
	for _, p := range m.opts.AllowedOrigins {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}

// WebSocketConnect GET /rooms/:roomId/ws
//
// 顺序：检查升级头 -> 房间 id -> 准入 -> 加入房间（首次会加载日志）-> 升级。
// 加入在升级之前，加载失败还能回 503。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusUpgradeRequired, gin.H{"error": "expected websocket upgrade"})
		return
	}
	roomID := c.Param("roomId")
	if roomID == "" || len(roomID) > maxRoomIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	key := c.ClientIP()
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot determine client address"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), m.opts.AdmitTimeout)
	wait, err := m.admitter.Admit(ctx, key)
	cancel()
	if err != nil {
		log.Printf("admission failed key=%s: %v", key, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "admission unavailable"})
		return
	}
	if wait > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts", "retryAfterMs": wait.Milliseconds()})
		return
	}

	uid := c.GetString(middleware.UserIDKey)
	conn := newConn(uid, roomID, &m.opts, m.presence)
	rm, err := m.rooms.Join(c.Request.Context(), roomID, conn)
	if err != nil {
		if errors.Is(err, room.ErrRegistryClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		}
		log.Printf("join room=%s failed: %v", roomID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room unavailable"})
		return
	}
	conn.room = rm

	// 中间件写在 Writer 上的 Set-Cookie 要手动带进 101 响应
	var respHeader http.Header
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		respHeader = http.Header{"Set-Cookie": cookies}
	}
	wsConn, err := m.upgrader.Upgrade(c.Writer, c.Request, respHeader)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		rm.Leave(conn)
		conn.Close()
		return
	}
	defer wsConn.Close()
	if !conn.attach(wsConn) {
		rm.Leave(conn)
		return
	}

	conn.touchPresence()
	// 先启动写循环，再进入读循环（阻塞至连接关闭）
	go conn.writeLoop()
	conn.readLoop()

	rm.Leave(conn)
	conn.Close()
	conn.leavePresence()
}
