package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPinger RedisChecker 依赖的最小接口，*redisstorage.Client 满足该接口
type RedisPinger interface {
	HealthCheck(ctx context.Context) error
	Stats() *redis.PoolStats
}

// RedisChecker Redis健康检查器。
// Redis 只承载扫描缓存，故障时整体降级而非不可用。
type RedisChecker struct {
	client RedisPinger
}

// NewRedisChecker 创建Redis健康检查器
func NewRedisChecker(client RedisPinger) *RedisChecker {
	return &RedisChecker{client: client}
}

// Name 返回检查器名称
func (c *RedisChecker) Name() string {
	return "redis"
}

// Check 执行健康检查
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	if err := c.client.HealthCheck(ctx); err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stats := c.client.Stats()
	utilization := 0.0
	if stats.TotalConns > 0 {
		utilization = float64(stats.TotalConns-stats.IdleConns) / float64(stats.TotalConns)
	}

	status := StatusHealthy
	message := "ok"
	if utilization > 0.9 {
		status = StatusDegraded
		message = "connection pool near limit"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]any{
			"total_conns": stats.TotalConns,
			"idle_conns":  stats.IdleConns,
			"hits":        stats.Hits,
			"misses":      stats.Misses,
			"timeouts":    stats.Timeouts,
			"utilization": fmt.Sprintf("%.1f%%", utilization*100),
		},
		Latency: time.Since(start),
	}
}
