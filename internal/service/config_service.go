package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/taoyao-code/esp-provision/internal/authz"
	"github.com/taoyao-code/esp-provision/internal/provision"
	"github.com/taoyao-code/esp-provision/internal/secret"
	"github.com/taoyao-code/esp-provision/internal/storage"
)

// ConfigView 对外展示的全局设备配置；Password 仅对设备令牌认证的请求填充
type ConfigView struct {
	SSID     string  `json:"ssid"`
	Password *string `json:"password,omitempty"`
	APIHost  string  `json:"api_host"`
}

// ConfigPatch 局部更新，nil 字段保持不变
type ConfigPatch struct {
	SSID     *string `json:"ssid"`
	Password *string `json:"password"`
	APIHost  *string `json:"api_host"`
}

// ConfigService 全局设备配置服务，实现 provision.ConfigSource
type ConfigService struct {
	repo   storage.ConfigRepo
	sealer *secret.Sealer
	logger *zap.Logger
}

var _ provision.ConfigSource = (*ConfigService)(nil)

// NewConfigService 创建配置服务
func NewConfigService(repo storage.ConfigRepo, sealer *secret.Sealer, logger *zap.Logger) *ConfigService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigService{repo: repo, sealer: sealer, logger: logger}
}

// Current 返回含明文密码的配置快照，供下发使用
func (s *ConfigService) Current(ctx context.Context) (provision.Settings, error) {
	cfg, err := s.repo.GetConfig(ctx)
	if err != nil {
		return provision.Settings{}, fmt.Errorf("load device config: %w", err)
	}
	password, err := s.sealer.Open(cfg.PasswordSealed)
	if err != nil {
		return provision.Settings{}, fmt.Errorf("open device config password: %w", err)
	}
	return provision.Settings{SSID: cfg.SSID, Password: password, APIHost: cfg.APIHost}, nil
}

// View 读取配置；includePassword 仅在设备令牌认证通过时为 true
func (s *ConfigService) View(ctx context.Context, includePassword bool) (ConfigView, error) {
	if !includePassword {
		cfg, err := s.repo.GetConfig(ctx)
		if err != nil {
			return ConfigView{}, err
		}
		return ConfigView{SSID: cfg.SSID, APIHost: cfg.APIHost}, nil
	}
	cur, err := s.Current(ctx)
	if err != nil {
		return ConfigView{}, err
	}
	return ConfigView{SSID: cur.SSID, Password: &cur.Password, APIHost: cur.APIHost}, nil
}

// Update 管理员局部更新配置
func (s *ConfigService) Update(ctx context.Context, actor authz.Actor, patch ConfigPatch) (ConfigView, error) {
	if err := authz.CanUpdateConfig(actor); err != nil {
		return ConfigView{}, err
	}
	cfg, err := s.repo.GetConfig(ctx)
	if err != nil {
		return ConfigView{}, err
	}

	if patch.SSID != nil {
		ssid := strings.TrimSpace(*patch.SSID)
		if len([]rune(ssid)) > 128 {
			return ConfigView{}, invalidf("ssid longer than 128 characters")
		}
		cfg.SSID = ssid
	}
	if patch.APIHost != nil {
		host := strings.TrimSpace(*patch.APIHost)
		if host != "" {
			if err := validateHostURL(host); err != nil {
				return ConfigView{}, err
			}
		}
		cfg.APIHost = host
	}
	if patch.Password != nil {
		sealed, err := s.sealer.Seal(*patch.Password)
		if err != nil {
			return ConfigView{}, err
		}
		cfg.PasswordSealed = sealed
	}

	if err := s.repo.SaveConfig(ctx, cfg); err != nil {
		return ConfigView{}, err
	}
	s.logger.Info("device config updated",
		zap.String("by", actor.UserID),
		zap.Bool("ssid_changed", patch.SSID != nil),
		zap.Bool("password_changed", patch.Password != nil),
		zap.Bool("api_host_changed", patch.APIHost != nil),
	)
	return ConfigView{SSID: cfg.SSID, APIHost: cfg.APIHost}, nil
}

func validateHostURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return invalidf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidf("api_host must be an http(s) url")
	}
	if u.Host == "" {
		return invalidf("api_host is missing a host")
	}
	return nil
}
