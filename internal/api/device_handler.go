package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/esp-provision/internal/api/middleware"
	"github.com/taoyao-code/esp-provision/internal/provision"
	"github.com/taoyao-code/esp-provision/internal/service"
	"github.com/taoyao-code/esp-provision/internal/storage"
)

// DeviceHandler ESP 设备注册、归属、下发与控制接口
type DeviceHandler struct {
	devices *service.DeviceService
	config  *service.ConfigService
	logger  *zap.Logger
}

// NewDeviceHandler 创建设备接口处理器
func NewDeviceHandler(devices *service.DeviceService, config *service.ConfigService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, config: config, logger: logger}
}

// HeartbeatRequest 设备心跳；ip 缺省时取请求来源地址
type HeartbeatRequest struct {
	IP               string `json:"ip"`
	SSID             string `json:"ssid"`
	APIHost          string `json:"api_host"`
	Firmware         string `json:"firmware"`
	PairingCode      string `json:"pairing_code"`
	WifiEvent        string `json:"wifi_event"`
	RSSI             *int   `json:"rssi"`
	DisconnectReason string `json:"disconnect_reason"`
	ServerReachable  bool   `json:"server_reachable"`
}

// ClaimRequest 认领请求
type ClaimRequest struct {
	DeviceID    uint   `json:"device_id"`
	PairingCode string `json:"pairing_code"`
}

// TokenRequest 查看/重置设备令牌
type TokenRequest struct {
	DeviceID   uint `json:"device_id"`
	Regenerate bool `json:"regenerate"`
}

// PushRequest 配置下发；device_id 与 ip 二选一
type PushRequest struct {
	DeviceID      uint   `json:"device_id"`
	IP            string `json:"ip"`
	RebootOnReset bool   `json:"reboot_on_reset"`
}

// ControlRequest 控制指令
type ControlRequest struct {
	DeviceID uint           `json:"device_id"`
	IP       string         `json:"ip"`
	Action   string         `json:"action"`
	Payload  map[string]any `json:"payload"`
}

// TestHostRequest API 主机连通性测试
type TestHostRequest struct {
	URL string `json:"url"`
}

// bindOptional 允许空请求体
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		badRequest(c, "invalid device id")
		return 0, false
	}
	return uint(id), true
}

// Ping 设备连通性检查
// @Summary 连通性检查
// @Tags 设备
// @Produce json
// @Router /api/ping [get]
func (h *DeviceHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Scan 扫描本机所在 /24 网段
// @Summary 局域网扫描
// @Tags 设备
// @Produce json
// @Success 200 {object} map[string]interface{} "devices"
// @Router /api/devices/scan [get]
func (h *DeviceHandler) Scan(c *gin.Context) {
	found, err := h.devices.Scan(c.Request.Context(), middleware.ActorFrom(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": found})
}

// LastScan 最近一次扫描结果
func (h *DeviceHandler) LastScan(c *gin.Context) {
	found, err := h.devices.LastScan(c.Request.Context(), middleware.ActorFrom(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": found})
}

// Heartbeat 设备登记与心跳
// @Summary 设备心跳
// @Description 按 IP upsert 设备记录并回显；首次登记的响应包含设备令牌
// @Tags 设备
// @Accept json
// @Produce json
// @Param request body HeartbeatRequest true "心跳"
// @Router /api/devices [post]
func (h *DeviceHandler) Heartbeat(c *gin.Context) {
	if middleware.DeviceTokenInvalid(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid device token"})
		return
	}
	var req HeartbeatRequest
	if !bindOptional(c, &req) {
		return
	}
	if req.IP == "" {
		req.IP = c.ClientIP()
	}

	device, created, err := h.devices.Heartbeat(c.Request.Context(), storage.Heartbeat{
		IP:               req.IP,
		APIHost:          req.APIHost,
		SSID:             req.SSID,
		Firmware:         req.Firmware,
		PairingCode:      req.PairingCode,
		WifiEvent:        req.WifiEvent,
		DisconnectReason: req.DisconnectReason,
		RSSI:             req.RSSI,
		ServerReachable:  req.ServerReachable,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	authDevice := middleware.DeviceFrom(c)
	if created {
		authDevice = device
	}
	c.JSON(http.StatusOK, service.NewDeviceView(middleware.ActorFrom(c), device, authDevice))
}

// List 最近活跃的设备
// @Summary 设备列表
// @Tags 设备
// @Produce json
// @Param limit query int false "最多返回条数，默认 50"
// @Router /api/devices [get]
func (h *DeviceHandler) List(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	devices, err := h.devices.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(devices),
		"devices": service.NewDeviceViews(middleware.ActorFrom(c), devices, middleware.DeviceFrom(c)),
	})
}

// Detail 设备详情
func (h *DeviceHandler) Detail(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	device, err := h.devices.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, service.NewDeviceView(middleware.ActorFrom(c), device, middleware.DeviceFrom(c)))
}

// Claim 使用配对码认领设备
// @Summary 认领设备
// @Tags 设备
// @Accept json
// @Produce json
// @Param request body ClaimRequest true "认领"
// @Failure 403 {object} map[string]interface{} "配对码不匹配或已被他人认领"
// @Router /api/devices/claim [post]
func (h *DeviceHandler) Claim(c *gin.Context) {
	var req ClaimRequest
	if !bindOptional(c, &req) {
		return
	}
	actor := middleware.ActorFrom(c)
	device, err := h.devices.Claim(c.Request.Context(), actor, req.DeviceID, req.PairingCode)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, service.NewDeviceView(actor, device, nil))
}

// Unclaim 释放设备归属
func (h *DeviceHandler) Unclaim(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	actor := middleware.ActorFrom(c)
	device, err := h.devices.Release(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, service.NewDeviceView(actor, device, nil))
}

// Token 查看或重置设备令牌
// @Summary 设备令牌
// @Tags 设备
// @Accept json
// @Produce json
// @Param request body TokenRequest true "device_id, regenerate"
// @Router /api/devices/token [post]
func (h *DeviceHandler) Token(c *gin.Context) {
	var req TokenRequest
	if !bindOptional(c, &req) {
		return
	}
	token, err := h.devices.Token(c.Request.Context(), middleware.ActorFrom(c), req.DeviceID, req.Regenerate)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_token": token})
}

// Provision 向已登记设备下发全局配置
// @Summary 下发配置
// @Tags 设备
// @Accept json
// @Produce json
// @Param id path int true "设备 ID"
// @Success 200 {object} map[string]interface{} "status, code, body, reboot_attempted"
// @Failure 502 {object} map[string]interface{} "连接失败或被重置"
// @Failure 504 {object} map[string]interface{} "设备超时"
// @Router /api/devices/{id}/provision [post]
func (h *DeviceHandler) Provision(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req PushRequest
	if !bindOptional(c, &req) {
		return
	}
	res, err := h.devices.Provision(c.Request.Context(), middleware.ActorFrom(c), id, provision.PushOptions{RebootOnReset: req.RebootOnReset})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondPush(c, res)
}

// PushConfig 按设备 ID 或 IP 下发配置
func (h *DeviceHandler) PushConfig(c *gin.Context) {
	var req PushRequest
	if !bindOptional(c, &req) {
		return
	}
	target := service.Target{DeviceID: req.DeviceID, IP: req.IP}
	res, err := h.devices.PushConfig(c.Request.Context(), middleware.ActorFrom(c), target, provision.PushOptions{RebootOnReset: req.RebootOnReset})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondPush(c, res)
}

// PushConfigAll 向全部已登记设备下发配置
// @Summary 批量下发
// @Description 逐台顺序下发，单台失败只体现在对应结果中
// @Tags 设备
// @Produce json
// @Router /api/devices/push-config-all [post]
func (h *DeviceHandler) PushConfigAll(c *gin.Context) {
	var req PushRequest
	if !bindOptional(c, &req) {
		return
	}
	results, err := h.devices.PushAll(c.Request.Context(), middleware.ActorFrom(c), provision.PushOptions{RebootOnReset: req.RebootOnReset})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Control 下发控制指令
// @Summary 控制指令
// @Description reboot 等指令在设备报错或连接被重置时按回退表依次尝试其他端点
// @Tags 设备
// @Accept json
// @Produce json
// @Param request body ControlRequest true "device_id|ip, action, payload"
// @Router /api/devices/control [post]
func (h *DeviceHandler) Control(c *gin.Context) {
	var req ControlRequest
	if !bindOptional(c, &req) {
		return
	}
	target := service.Target{DeviceID: req.DeviceID, IP: req.IP}
	res, err := h.devices.Control(c.Request.Context(), middleware.ActorFrom(c), target, req.Action, req.Payload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respondCommand(c, res)
}

// GetConfig 读取全局设备配置；持有效设备令牌时包含明文密码
// @Summary 设备配置
// @Tags 配置
// @Produce json
// @Param X-Device-Token header string false "设备令牌"
// @Router /api/devices/config [get]
func (h *DeviceHandler) GetConfig(c *gin.Context) {
	withPassword := middleware.DeviceFrom(c) != nil
	view, err := h.config.View(c.Request.Context(), withPassword)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdateConfig 管理员修改全局设备配置
func (h *DeviceHandler) UpdateConfig(c *gin.Context) {
	var patch service.ConfigPatch
	if !bindOptional(c, &patch) {
		return
	}
	view, err := h.config.Update(c.Request.Context(), middleware.ActorFrom(c), patch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// TestHost 从服务端测试 API 主机可达性
func (h *DeviceHandler) TestHost(c *gin.Context) {
	var req TestHostRequest
	if !bindOptional(c, &req) {
		return
	}
	res, err := h.devices.TestHost(c.Request.Context(), middleware.ActorFrom(c), req.URL)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !res.OK {
		c.JSON(failureCode(res), gin.H{"status": "error", "detail": res.Detail})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "code": res.Code})
}
