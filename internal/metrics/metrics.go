package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 设备下发与控制相关的业务指标
type AppMetrics struct {
	PushTotal         *prometheus.CounterVec // labels: result=ok|device_error|timeout|reset|error
	PushAttemptsTotal prometheus.Counter     // 每次 POST /apply-config 计一次
	CommandTotal      *prometheus.CounterVec // labels: action, result
	FallbackTotal     *prometheus.CounterVec // labels: strategy（命中的回退策略）
	ScanDuration      prometheus.Histogram
	ScanDevicesFound  prometheus.Gauge
	HeartbeatTotal    prometheus.Counter
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		PushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provision_push_total",
			Help: "Config push operations by outcome.",
		}, []string{"result"}),
		PushAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provision_push_attempts_total",
			Help: "Individual apply-config POST attempts.",
		}),
		CommandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_command_total",
			Help: "Control commands dispatched by action and outcome.",
		}, []string{"action", "result"}),
		FallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "device_command_fallback_total",
			Help: "Control commands that succeeded through a fallback strategy.",
		}, []string{"strategy"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lan_scan_duration_seconds",
			Help:    "Wall time of LAN discovery scans.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45},
		}),
		ScanDevicesFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lan_scan_devices_found",
			Help: "Reachable devices found by the most recent scan.",
		}),
		HeartbeatTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "device_heartbeat_total",
			Help: "Total device heartbeats received.",
		}),
	}
	reg.MustRegister(m.PushTotal, m.PushAttemptsTotal, m.CommandTotal, m.FallbackTotal, m.ScanDuration, m.ScanDevicesFound, m.HeartbeatTotal)
	return m
}
