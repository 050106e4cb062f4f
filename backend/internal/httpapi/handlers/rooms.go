package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"canvasService/backend/internal/cache"
	"canvasService/backend/internal/canvas"
	"canvasService/backend/internal/room"
	"canvasService/backend/internal/store"
)

type RoomHandler struct {
	rooms    *room.Registry
	store    store.RoomStore
	presence cache.PresenceCache // 可为 nil
	sf       singleflight.Group
}

func NewRoomHandler(rooms *room.Registry, rs store.RoomStore, presence cache.PresenceCache) *RoomHandler {
	return &RoomHandler{rooms: rooms, store: rs, presence: presence}
}

// GetStack GET /rooms/:roomId/stack
// 活跃房间直接问房间 goroutine；不活跃的读持久化记录，同一房间的并发读合并成一次
func (h *RoomHandler) GetStack() gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		stack, ok, err := h.rooms.Snapshot(c.Request.Context(), roomID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			v, err, _ := h.sf.Do(roomID, func() (any, error) {
				return h.store.Load(context.WithoutCancel(c.Request.Context()), roomID)
			})
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			stack = v.([]canvas.PathData)
		}
		if stack == nil {
			stack = []canvas.PathData{}
		}
		c.JSON(http.StatusOK, gin.H{"roomId": roomID, "active": ok, "stack": stack})
	}
}

// GetStatus GET /rooms/:roomId/status
func (h *RoomHandler) GetStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		st, ok, err := h.rooms.Stats(c.Request.Context(), roomID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			st = room.Stats{RoomID: roomID, State: room.StateEmpty.String()}
		}
		c.JSON(http.StatusOK, st)
	}
}

// GetMembers GET /rooms/:roomId/members
func (h *RoomHandler) GetMembers() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.presence == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "presence disabled"})
			return
		}
		roomID := c.Param("roomId")
		members, err := h.presence.Members(c.Request.Context(), roomID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if members == nil {
			members = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"roomId": roomID, "members": members})
	}
}

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
