package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/middleware"
	"github.com/habitflow/internal/service"
	"go.uber.org/zap"
)

const sessionUserKey = "user_id"

// respondError 把核心层的错误分类映射为 HTTP 状态码。
// "今天已打过卡"(409)、"不允许"(400/403)、"不存在"(404) 对客户端是不同的 UI。
func (a *API) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		a.logger.Error("internal error", withRequestID(c, err)...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// AuthRequired 要求会话中存在已认证的用户
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if session.Get(sessionUserKey) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// currentUserID 从会话取出当前用户 ID
func currentUserID(c *gin.Context) uint {
	session := sessions.Default(c)
	raw := session.Get(sessionUserKey)
	if id, ok := raw.(uint); ok {
		return id
	}
	return 0
}

func withRequestID(c *gin.Context, err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	if raw, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := raw.(string); ok {
			fields = append(fields, zap.String("request_id", id))
		}
	}
	return fields
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}
