package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/taoyao-code/esp-provision/internal/config"
	"github.com/taoyao-code/esp-provision/internal/storage"
)

// ScanCacheKey 最近一次扫描结果的键
const ScanCacheKey = "provision:scan:last"

// Client 扫描缓存使用的 Redis 连接，同时供健康检查读取连接池状态
type Client struct {
	*redis.Client
}

// NewClient 按配置建立连接，连通性检查超时取 DialTimeout（默认 5s）
func NewClient(cfg cfgpkg.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, errors.New("scan cache redis is disabled")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	wait := cfg.DialTimeout
	if wait <= 0 {
		wait = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("scan cache redis %s: %w", cfg.Addr, err)
	}
	return &Client{Client: rdb}, nil
}

// HealthCheck 满足 health.RedisPinger
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Stats 满足 health.RedisPinger
func (c *Client) Stats() *redis.PoolStats {
	return c.PoolStats()
}

// ScanCache 基于 Redis 的扫描结果缓存
type ScanCache struct {
	client *Client
	ttl    time.Duration
}

var _ storage.ScanCache = (*ScanCache)(nil)

// NewScanCache ttl<=0 表示不过期
func NewScanCache(client *Client, ttl time.Duration) *ScanCache {
	return &ScanCache{client: client, ttl: ttl}
}

func (s *ScanCache) SaveScan(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, ScanCacheKey, b, s.ttl).Err()
}

func (s *ScanCache) LoadScan(ctx context.Context, dst any) (bool, error) {
	b, err := s.client.Get(ctx, ScanCacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, err
	}
	return true, nil
}
