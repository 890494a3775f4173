package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/esp-provision/internal/config"
	"github.com/taoyao-code/esp-provision/internal/health"
	"github.com/taoyao-code/esp-provision/internal/storage"
	redisstorage "github.com/taoyao-code/esp-provision/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端，未启用时返回 nil
func NewRedisClient(cfg cfgpkg.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, scan cache kept in memory")
		return nil, nil
	}

	client, err := redisstorage.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}

// NewScanCache Redis 可用时使用 Redis，否则退化为进程内缓存
func NewScanCache(client *redisstorage.Client, cfg cfgpkg.RedisConfig) storage.ScanCache {
	if client == nil {
		return storage.NewMemoryScanCache(cfg.ScanCacheTTL)
	}
	return redisstorage.NewScanCache(client, cfg.ScanCacheTTL)
}

// AddRedisChecker 添加Redis检查器到聚合器
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client) {
	if redisClient != nil {
		aggregator.AddChecker(health.NewRedisChecker(redisClient))
	}
}
