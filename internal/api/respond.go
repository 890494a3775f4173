package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/esp-provision/internal/authz"
	"github.com/taoyao-code/esp-provision/internal/provision"
	"github.com/taoyao-code/esp-provision/internal/service"
	"github.com/taoyao-code/esp-provision/internal/storage"
)

// respondError 将服务层错误映射为 HTTP 状态码
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, provision.ErrNoLocalNetwork):
		status = http.StatusBadRequest
	case errors.Is(err, authz.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, authz.ErrForbidden),
		errors.Is(err, authz.ErrPairingMismatch):
		status = http.StatusForbidden
	case errors.Is(err, storage.ErrDeviceNotFound), errors.Is(err, service.ErrNoScan):
		status = http.StatusNotFound
	default:
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// deviceStatus OK 结果中设备是否接受了请求
func deviceStatus(res provision.Result) string {
	if res.Accepted() {
		return "ok"
	}
	return "device_error"
}

// failureCode 设备交互失败时的响应码，传输层失败只会是 502/504
func failureCode(res provision.Result) int {
	if res.Code >= 400 {
		return res.Code
	}
	return http.StatusBadGateway
}

// respondPush 配置下发结果
func respondPush(c *gin.Context, res provision.Result) {
	if !res.OK {
		c.JSON(failureCode(res), gin.H{
			"status":           "error",
			"detail":           res.Detail,
			"reboot_attempted": res.RebootAttempted,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           deviceStatus(res),
		"code":             res.Code,
		"body":             res.Body,
		"reboot_attempted": res.RebootAttempted,
	})
}

// respondCommand 控制指令结果，命中回退策略时附带 fallback
func respondCommand(c *gin.Context, res provision.Result) {
	if !res.OK {
		h := gin.H{"status": "error", "detail": res.Detail}
		if res.Code > 0 {
			h["code"] = res.Code
		}
		c.JSON(failureCode(res), h)
		return
	}
	h := gin.H{"status": deviceStatus(res), "code": res.Code, "body": res.Body}
	if res.Fallback != "" {
		h["fallback"] = res.Fallback
	}
	c.JSON(http.StatusOK, h)
}
