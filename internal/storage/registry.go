package storage

import (
	"context"
	"errors"
	"time"

	"github.com/taoyao-code/esp-provision/internal/storage/models"
)

var (
	// ErrDeviceNotFound 设备记录不存在
	ErrDeviceNotFound = errors.New("device not found")
)

// Heartbeat 设备心跳上报内容，upsert 时整体覆盖
type Heartbeat struct {
	IP               string
	APIHost          string
	SSID             string
	Firmware         string
	PairingCode      string
	WifiEvent        string
	DisconnectReason string
	RSSI             *int
	ServerReachable  bool
}

// Truncated 返回按字段上限截断后的副本（按字符截断，不破坏 UTF-8）
func (h Heartbeat) Truncated() Heartbeat {
	h.APIHost = truncateRunes(h.APIHost, models.MaxAPIHostLen)
	h.SSID = truncateRunes(h.SSID, models.MaxSSIDLen)
	h.Firmware = truncateRunes(h.Firmware, models.MaxFirmwareLen)
	h.PairingCode = truncateRunes(h.PairingCode, models.MaxPairingCodeLen)
	h.WifiEvent = truncateRunes(h.WifiEvent, models.MaxWifiEventLen)
	h.DisconnectReason = truncateRunes(h.DisconnectReason, models.MaxDisconnectReasonLen)
	return h
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// DeviceRepo 设备注册表持久化接口
type DeviceRepo interface {
	WithTx(ctx context.Context, fn func(DeviceRepo) error) error

	// UpsertHeartbeat 按 IP upsert；新建时写入 newToken，已存在时不改动令牌与归属
	UpsertHeartbeat(ctx context.Context, hb Heartbeat, newToken string, at time.Time) (*models.DeviceInstance, bool, error)
	GetDevice(ctx context.Context, id uint) (*models.DeviceInstance, error)
	GetDeviceByIP(ctx context.Context, ip string) (*models.DeviceInstance, error)
	FindByToken(ctx context.Context, token string) (*models.DeviceInstance, error)
	ListDevices(ctx context.Context, limit int) ([]models.DeviceInstance, error)
	ListAllDevices(ctx context.Context) ([]models.DeviceInstance, error)

	// ClaimDevice 写入归属（可覆盖他人归属）；同一用户重复认领不刷新 claimed_at
	ClaimDevice(ctx context.Context, id uint, userID string, at time.Time) error
	ReleaseDevice(ctx context.Context, id uint) error
	SetAPIToken(ctx context.Context, id uint, token string) error
}

// ConfigRepo 全局设备配置（单例）持久化接口
type ConfigRepo interface {
	GetConfig(ctx context.Context) (*models.DeviceConfig, error)
	SaveConfig(ctx context.Context, cfg *models.DeviceConfig) error
}
