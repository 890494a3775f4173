package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/esp-provision/internal/config"
	"github.com/taoyao-code/esp-provision/internal/metrics"
	"github.com/taoyao-code/esp-provision/internal/provision"
	"github.com/taoyao-code/esp-provision/internal/secret"
	"github.com/taoyao-code/esp-provision/internal/service"
	"github.com/taoyao-code/esp-provision/internal/storage"
	"github.com/taoyao-code/esp-provision/internal/storage/gormrepo"
)

// NewSealer 创建配置密码加密器，未配置密钥时告警
func NewSealer(cfg cfgpkg.SecretsConfig, log *zap.Logger) (*secret.Sealer, error) {
	sealer, err := secret.NewSealer(cfg.ConfigKey)
	if err != nil {
		return nil, err
	}
	if !sealer.Encrypting() {
		log.Warn("secrets.configKey not set - wifi password stored unencrypted")
	}
	return sealer, nil
}

// LoadFallbacks 加载控制指令回退表；未配置文件时使用内置表
func LoadFallbacks(path string, log *zap.Logger) (provision.FallbackTable, error) {
	if path == "" {
		return provision.DefaultFallbacks(), nil
	}
	table, err := provision.LoadFallbacks(path)
	if err != nil {
		return provision.FallbackTable{}, err
	}
	log.Info("command fallbacks loaded", zap.String("path", path))
	return table, nil
}

// Services 设备子系统的服务集合
type Services struct {
	Devices *service.DeviceService
	Config  *service.ConfigService
}

// NewServices 按配置组装探测、扫描、下发、控制与编排服务
func NewServices(
	cfg cfgpkg.DeviceConfig,
	repo *gormrepo.Repository,
	sealer *secret.Sealer,
	fallbacks provision.FallbackTable,
	cache storage.ScanCache,
	appm *metrics.AppMetrics,
	log *zap.Logger,
) *Services {
	ep := provision.NewEndpoint(cfg.Port)

	configSvc := service.NewConfigService(repo, sealer, log.Named("config"))

	dispatcher := provision.NewDispatcher(ep, cfg.CommandTimeout, fallbacks, log.Named("dispatcher"), appm)

	pusher := provision.NewPusher(ep, configSvc, dispatcher, log.Named("pusher"), appm)
	pusher.TCPTimeout = cfg.TCPTimeout
	pusher.ProbeTimeout = cfg.PrePushTimeout
	pusher.PostTimeout = cfg.PostTimeout
	pusher.Retries = cfg.Retries
	pusher.BackoffStep = cfg.BackoffStep
	pusher.RebootWait = cfg.RebootWait

	prober := provision.NewProber(ep, cfg.ProbeTimeout)
	scanner := provision.NewScanner(prober, cfg.ScanWorkers, cfg.ScanDeadline, cfg.ScanTCPTimeout, log.Named("scanner"))

	devices := service.NewDeviceService(service.DeviceServiceDeps{
		Repo:      repo,
		Config:    configSvc,
		Pusher:    pusher,
		Commander: dispatcher,
		Scanner:   scanner,
		Hosts:     provision.NewHostChecker(cfg.TestHostTimeout),
		Cache:     cache,
		Logger:    log.Named("devices"),
		Metrics:   appm,
	})
	return &Services{Devices: devices, Config: configSvc}
}
