package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// UserIDKey gin.Context 里存放匿名用户 id 的 key，同时也是 cookie 名
	UserIDKey    = "uid"
	cookieMaxAge = 365 * 24 * 3600
)

// EnsureUserID 没有合法 uid cookie 时签发一个新的（匿名身份，仅用于在线成员展示）
func EnsureUserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := c.Cookie(UserIDKey)
		if err != nil || uuid.Validate(uid) != nil {
			uid = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(UserIDKey, uid, cookieMaxAge, "/", "", false, true)
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}
