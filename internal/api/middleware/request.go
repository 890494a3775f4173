package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader 请求追踪 ID 头
const RequestIDHeader = "X-Request-ID"

// RequestID 透传或生成 X-Request-ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog 记录每个请求的方法、路径、状态码与耗时
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
			zap.String("request_id", c.GetString("request_id")),
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}
