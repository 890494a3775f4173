package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/esp-provision/internal/api/middleware"
)

// RouteOptions 路由级中间件配置
type RouteOptions struct {
	Auth      middleware.AuthConfig
	RateLimit middleware.RateLimitConfig
}

// RegisterDeviceRoutes 注册 /api 下的设备接口
func RegisterDeviceRoutes(r *gin.Engine, h *DeviceHandler, opts RouteOptions, logger *zap.Logger) {
	if r == nil || h == nil {
		return
	}

	api := r.Group("/api")
	api.Use(
		middleware.ActorAuth(opts.Auth, logger),
		middleware.DeviceToken(h.devices.AuthenticateDevice, logger),
	)

	api.GET("/ping", h.Ping)

	devices := api.Group("/devices")
	devices.GET("", h.List)
	devices.POST("", middleware.RateLimit(opts.RateLimit), h.Heartbeat)
	devices.GET("/scan", h.Scan)
	devices.GET("/scan/last", h.LastScan)
	devices.POST("/claim", h.Claim)
	devices.POST("/token", h.Token)
	devices.POST("/control", h.Control)
	devices.POST("/push-config", h.PushConfig)
	devices.POST("/push-config-all", h.PushConfigAll)

	devices.GET("/config", h.GetConfig)
	devices.POST("/config", h.UpdateConfig)
	devices.POST("/config/test-host", h.TestHost)

	devices.GET("/:id", h.Detail)
	devices.POST("/:id/provision", h.Provision)
	devices.POST("/:id/unclaim", h.Unclaim)

	logger.Info("device routes registered", zap.Bool("auth", opts.Auth.Enabled))
}
