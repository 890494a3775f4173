package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/esp-provision/internal/storage/models"
)

const (
	deviceKey        = "device"
	deviceInvalidKey = "device_token_invalid"

	// DeviceTokenHeader 设备令牌请求头，也可使用 ?token= 查询参数
	DeviceTokenHeader = "X-Device-Token"
)

// DeviceLookup 按令牌查找设备
type DeviceLookup func(ctx context.Context, token string) (*models.DeviceInstance, error)

// DeviceToken 识别设备令牌。
// 不拦截请求：未携带视为匿名，无效令牌仅做标记，由各接口决定拒绝还是降级。
func DeviceToken(lookup DeviceLookup, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(DeviceTokenHeader)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.Next()
			return
		}

		device, err := lookup(c.Request.Context(), token)
		if err != nil {
			logger.Debug("device token rejected",
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()),
				zap.Error(err),
			)
			c.Set(deviceInvalidKey, true)
			c.Next()
			return
		}
		c.Set(deviceKey, device)
		c.Next()
	}
}

// DeviceFrom 返回以令牌认证的设备，没有则为 nil
func DeviceFrom(c *gin.Context) *models.DeviceInstance {
	if v, ok := c.Get(deviceKey); ok {
		if d, ok := v.(*models.DeviceInstance); ok {
			return d
		}
	}
	return nil
}

// DeviceTokenInvalid 请求是否携带了无效的设备令牌
func DeviceTokenInvalid(c *gin.Context) bool {
	return c.GetBool(deviceInvalidKey)
}
