package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"VPN-MiniApp/internal/logger"
)

const (
	ctxUserID     = "user_id"
	ctxTelegramID = "telegram_id"
)

// Middleware пропускает запросы с валидным Bearer-токеном.
// Клиент всегда получает одинаковый ответ 401, причина остаётся в логе.
func Middleware(sessions *SessionIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			Unauthorized(c)
			return
		}

		claims, err := sessions.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			logger.Debug("session rejected", zap.Error(err), zap.String("path", c.FullPath()))
			Unauthorized(c)
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxTelegramID, claims.TelegramID)
		c.Next()
	}
}

// Unauthorized: общий ответ на любую ошибку аутентификации.
func Unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

func TelegramID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxTelegramID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
