package health

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckTimeout 单个检查器的超时时间
const DefaultCheckTimeout = 3 * time.Second

// Aggregator 健康检查聚合器
type Aggregator struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

// NewAggregator 创建聚合器
func NewAggregator(checkers ...Checker) *Aggregator {
	return &Aggregator{checkers: checkers, timeout: DefaultCheckTimeout}
}

// SetTimeout 设置单个检查器超时
func (a *Aggregator) SetTimeout(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeout = d
}

// AddChecker 添加检查器
func (a *Aggregator) AddChecker(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkers = append(a.checkers, checker)
}

// CheckAll 并发执行所有健康检查
func (a *Aggregator) CheckAll(ctx context.Context) map[string]CheckResult {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	timeout := a.timeout
	a.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			result := c.Check(cctx)

			resultsMu.Lock()
			results[c.Name()] = result
			resultsMu.Unlock()
		}(checker)
	}

	wg.Wait()
	return results
}

// Summarize 根据各检查结果计算总体状态：任一 Unhealthy 即 Unhealthy，其次 Degraded
func Summarize(results map[string]CheckResult) Status {
	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// OverallStatus 计算总体健康状态
func (a *Aggregator) OverallStatus(ctx context.Context) Status {
	return Summarize(a.CheckAll(ctx))
}

// Ready 判断系统是否就绪，Degraded 仍视为就绪
func (a *Aggregator) Ready(ctx context.Context) bool {
	return a.OverallStatus(ctx) != StatusUnhealthy
}

// Alive 进程存活即返回 true
func (a *Aggregator) Alive() bool {
	return true
}

// HealthReport 健康报告
type HealthReport struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Report 执行一次检查并生成报告
func (a *Aggregator) Report(ctx context.Context) HealthReport {
	results := a.CheckAll(ctx)
	return HealthReport{
		Status:    Summarize(results),
		Timestamp: time.Now(),
		Checks:    results,
	}
}
