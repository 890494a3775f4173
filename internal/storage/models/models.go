package models

import (
	"time"
)

// 注意：
// - 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt（设备记录不做删除）
// - 心跳字段的长度上限与 registry 的截断规则保持一致

// 心跳字段长度上限（按字符计）
const (
	MaxAPIHostLen          = 256
	MaxSSIDLen             = 128
	MaxFirmwareLen         = 64
	MaxPairingCodeLen      = 32
	MaxWifiEventLen        = 64
	MaxDisconnectReasonLen = 128
)

// DeviceInstance 映射 device_instances 表
type DeviceInstance struct {
	ID uint `gorm:"column:id;primaryKey;autoIncrement"`
	// 心跳 upsert 键
	IP string `gorm:"column:ip;type:varchar(64);not null;uniqueIndex"`

	APIHost          string `gorm:"column:api_host;type:varchar(256);not null;default:''"`
	SSID             string `gorm:"column:ssid;type:varchar(128);not null;default:''"`
	Firmware         string `gorm:"column:firmware;type:varchar(64);not null;default:''"`
	PairingCode      string `gorm:"column:pairing_code;type:varchar(32);not null;default:''"`
	WifiEvent        string `gorm:"column:wifi_event;type:varchar(64);not null;default:''"`
	DisconnectReason string `gorm:"column:disconnect_reason;type:varchar(128);not null;default:''"`
	RSSI             *int   `gorm:"column:rssi"`
	ServerReachable  bool   `gorm:"column:server_reachable;not null;default:false"`

	// 归属：为空表示未认领
	ClaimedBy *string    `gorm:"column:claimed_by;type:varchar(64);index"`
	ClaimedAt *time.Time `gorm:"column:claimed_at"`

	// 64 位十六进制设备令牌，全局唯一
	APIToken string `gorm:"column:api_token;type:varchar(64);not null;uniqueIndex"`

	LastSeen  time.Time `gorm:"column:last_seen;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeviceInstance) TableName() string { return "device_instances" }

// Claimed 是否已被认领
func (d *DeviceInstance) Claimed() bool { return d.ClaimedBy != nil }

// DeviceConfigID 单例配置行主键
const DeviceConfigID = 1

// DeviceConfig 映射 device_config 表（单例，id 固定为 1）
type DeviceConfig struct {
	ID   uint   `gorm:"column:id;primaryKey"`
	SSID string `gorm:"column:ssid;type:varchar(128);not null;default:''"`
	// 密文，由 secret.Sealer 加解密
	PasswordSealed string    `gorm:"column:password_sealed;type:text;not null;default:''"`
	APIHost        string    `gorm:"column:api_host;type:varchar(256);not null;default:''"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeviceConfig) TableName() string { return "device_config" }

// All 返回需要迁移的全部模型
func All() []any {
	return []any{&DeviceInstance{}, &DeviceConfig{}}
}
