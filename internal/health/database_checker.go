package health

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DatabaseChecker 数据库健康检查器
type DatabaseChecker struct {
	db *gorm.DB
}

// NewDatabaseChecker 创建数据库健康检查器
func NewDatabaseChecker(db *gorm.DB) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

// Name 返回检查器名称
func (c *DatabaseChecker) Name() string {
	return "database"
}

// Check 执行健康检查
func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	sqlDB, err := c.db.DB()
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("get sql.DB failed: %v", err),
			Latency: time.Since(start),
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stats := sqlDB.Stats()
	utilization := 0.0
	if stats.MaxOpenConnections > 0 {
		utilization = float64(stats.InUse) / float64(stats.MaxOpenConnections)
	}

	status := StatusHealthy
	message := "ok"
	if utilization > 0.9 {
		status = StatusDegraded
		message = "connection pool near limit"
	}
	if utilization >= 1.0 {
		status = StatusUnhealthy
		message = "connection pool exhausted"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]any{
			"open_conns":  stats.OpenConnections,
			"in_use":      stats.InUse,
			"idle":        stats.Idle,
			"max_open":    stats.MaxOpenConnections,
			"wait_count":  stats.WaitCount,
			"utilization": fmt.Sprintf("%.1f%%", utilization*100),
		},
		Latency: time.Since(start),
	}
}
