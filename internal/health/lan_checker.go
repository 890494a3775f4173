package health

import (
	"context"
	"time"
)

// LANChecker 检查本机是否处于可扫描的局域网中。
// 无法确定本机地址时扫描接口会返回 400，此处报告为降级。
type LANChecker struct {
	localIP func() (string, error)
}

// NewLANChecker localIP 通常为 provision.LocalIPv4
func NewLANChecker(localIP func() (string, error)) *LANChecker {
	return &LANChecker{localIP: localIP}
}

// Name 返回检查器名称
func (c *LANChecker) Name() string {
	return "lan"
}

// Check 执行健康检查
func (c *LANChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	ip, err := c.localIP()
	if err != nil {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "local network not detected: " + err.Error(),
			Latency: time.Since(start),
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "ok",
		Details: map[string]any{"local_ip": ip},
		Latency: time.Since(start),
	}
}
