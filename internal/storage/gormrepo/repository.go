package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taoyao-code/esp-provision/internal/storage"
	"github.com/taoyao-code/esp-provision/internal/storage/models"
)

// DefaultListLimit 设备列表默认条数
const DefaultListLimit = 50

// heartbeatColumns 心跳 upsert 冲突时覆盖的列，不含令牌与归属
var heartbeatColumns = []string{
	"api_host", "ssid", "firmware", "pairing_code", "wifi_event",
	"disconnect_reason", "rssi", "server_reachable", "last_seen", "updated_at",
}

// Repository 基于 GORM 的设备注册表与配置存储。
// 使用 isTx 标记区分事务上下文，避免嵌套事务重复 Begin/Commit。
type Repository struct {
	db   *gorm.DB
	isTx bool
}

var (
	_ storage.DeviceRepo = (*Repository)(nil)
	_ storage.ConfigRepo = (*Repository)(nil)
)

// New 返回一个使用给定 *gorm.DB 的 Repository。
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate 自动迁移全部表结构
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(models.All()...)
}

// WithTx 复用现有事务或开启新事务执行 fn。
func (r *Repository) WithTx(ctx context.Context, fn func(storage.DeviceRepo) error) error {
	if r.isTx {
		return fn(r)
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	child := &Repository{db: tx, isTx: true}
	if err := fn(child); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// UpsertHeartbeat 按 IP 写入心跳；冲突时只覆盖心跳列。
// 返回的 bool 表示本次是否新建了记录。
func (r *Repository) UpsertHeartbeat(ctx context.Context, hb storage.Heartbeat, newToken string, at time.Time) (*models.DeviceInstance, bool, error) {
	hb = hb.Truncated()
	record := &models.DeviceInstance{
		IP:               hb.IP,
		APIHost:          hb.APIHost,
		SSID:             hb.SSID,
		Firmware:         hb.Firmware,
		PairingCode:      hb.PairingCode,
		WifiEvent:        hb.WifiEvent,
		DisconnectReason: hb.DisconnectReason,
		RSSI:             hb.RSSI,
		ServerReachable:  hb.ServerReachable,
		APIToken:         newToken,
		LastSeen:         at,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ip"}},
			DoUpdates: clause.AssignmentColumns(heartbeatColumns),
		}).
		Create(record).Error
	if err != nil {
		return nil, false, fmt.Errorf("upsert heartbeat %s: %w", hb.IP, err)
	}

	device, err := r.GetDeviceByIP(ctx, hb.IP)
	if err != nil {
		return nil, false, err
	}
	return device, device.APIToken == newToken, nil
}

// GetDevice 按主键查询设备
func (r *Repository) GetDevice(ctx context.Context, id uint) (*models.DeviceInstance, error) {
	return r.first(ctx, "id = ?", id)
}

// GetDeviceByIP 按 IP 查询设备
func (r *Repository) GetDeviceByIP(ctx context.Context, ip string) (*models.DeviceInstance, error) {
	return r.first(ctx, "ip = ?", ip)
}

// FindByToken 按设备令牌查询设备
func (r *Repository) FindByToken(ctx context.Context, token string) (*models.DeviceInstance, error) {
	if token == "" {
		return nil, storage.ErrDeviceNotFound
	}
	return r.first(ctx, "api_token = ?", token)
}

func (r *Repository) first(ctx context.Context, query string, arg any) (*models.DeviceInstance, error) {
	var device models.DeviceInstance
	err := r.db.WithContext(ctx).Where(query, arg).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// ListDevices 按最近心跳倒序返回设备，limit<=0 时使用默认条数
func (r *Repository) ListDevices(ctx context.Context, limit int) ([]models.DeviceInstance, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var devices []models.DeviceInstance
	err := r.db.WithContext(ctx).
		Order("last_seen DESC").Order("id DESC").
		Limit(limit).
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// ListAllDevices 返回全部设备，按 id 升序
func (r *Repository) ListAllDevices(ctx context.Context) ([]models.DeviceInstance, error) {
	var devices []models.DeviceInstance
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// ClaimDevice 写入归属，已被他人认领时直接转移给 userID。
// 同一用户重复认领视为成功且不刷新 claimed_at。
func (r *Repository) ClaimDevice(ctx context.Context, id uint, userID string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.DeviceInstance{}).
		Where("id = ? AND (claimed_by IS NULL OR claimed_by <> ?)", id, userID).
		Updates(map[string]any{
			"claimed_by": userID,
			"claimed_at": at,
			"last_seen":  at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// 未命中：设备不存在，或已归属 userID
	_, err := r.GetDevice(ctx, id)
	return err
}

// ReleaseDevice 清除设备归属
func (r *Repository) ReleaseDevice(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).
		Model(&models.DeviceInstance{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"claimed_by": nil,
			"claimed_at": nil,
			"last_seen":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrDeviceNotFound
	}
	return nil
}

// SetAPIToken 替换设备令牌
func (r *Repository) SetAPIToken(ctx context.Context, id uint, token string) error {
	res := r.db.WithContext(ctx).
		Model(&models.DeviceInstance{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"api_token": token,
			"last_seen": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrDeviceNotFound
	}
	return nil
}

// GetConfig 读取单例配置，不存在时返回空配置
func (r *Repository) GetConfig(ctx context.Context) (*models.DeviceConfig, error) {
	var cfg models.DeviceConfig
	err := r.db.WithContext(ctx).Where("id = ?", models.DeviceConfigID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.DeviceConfig{ID: models.DeviceConfigID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig 写入单例配置（id 固定为 1）
func (r *Repository) SaveConfig(ctx context.Context, cfg *models.DeviceConfig) error {
	cfg.ID = models.DeviceConfigID
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"ssid", "password_sealed", "api_host", "updated_at"}),
		}).
		Create(cfg).Error
}
