package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"canvasService/backend/internal/httpapi/handlers"
	"canvasService/backend/internal/httpapi/middleware"
	"canvasService/backend/internal/ws"
)

// DefaultRoom 访问根路径时跳转到的房间
const DefaultRoom = "0"

type RouterOptions struct {
	EnableCORS bool
}

func NewRouter(rooms *handlers.RoomHandler, wsm *ws.Manager, opt RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// 经网关访问时网关会加 CORS，这里默认关闭，重复的头会被浏览器拦截
	if opt.EnableCORS {
		r.Use(cors.New(cors.Config{
			AllowOriginFunc:  func(origin string) bool { return true },
			AllowMethods:     []string{"GET", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"Content-Length", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(middleware.EnsureUserID())

	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/rooms/"+DefaultRoom)
	})
	r.GET("/healthz", handlers.Healthz)

	g := r.Group("/rooms/:roomId")
	{
		g.GET("/ws", wsm.WebSocketConnect)
		g.GET("/stack", rooms.GetStack())
		g.GET("/status", rooms.GetStatus())
		g.GET("/members", rooms.GetMembers())
	}
	return r
}
