package provision

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/esp-provision/internal/metrics"
)

// DefaultCommandTimeout 控制指令超时
const DefaultCommandTimeout = 10 * time.Second

// Dispatcher 向设备 /control 发送控制指令，失败时按回退表级联重试
type Dispatcher struct {
	Endpoint
	Timeout   time.Duration
	Fallbacks FallbackTable
	Logger    *zap.Logger
	Metrics   *metrics.AppMetrics
}

// NewDispatcher 创建指令分发器
func NewDispatcher(ep Endpoint, timeout time.Duration, fallbacks FallbackTable, logger *zap.Logger, m *metrics.AppMetrics) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{Endpoint: ep, Timeout: timeout, Fallbacks: fallbacks, Logger: logger, Metrics: m}
}

// Send 发送 {action, ...payload}。payload 中的同名字段会覆盖 action。
func (d *Dispatcher) Send(ctx context.Context, target, action string, payload map[string]any) Result {
	res := d.send(ctx, target, action, payload)
	d.observe(action, res)
	return res
}

func (d *Dispatcher) send(ctx context.Context, target, action string, payload map[string]any) Result {
	log := d.Logger.With(zap.String("target", target), zap.String("action", action))

	body := map[string]any{"action": action}
	for k, v := range payload {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Result{Code: http.StatusBadRequest, Detail: "invalid payload: " + err.Error()}
	}

	r, err := d.request(ctx, http.MethodPost, target, "/control", ctJSON, raw, d.Timeout, maxReplyRead)
	if err == nil {
		if r.Code < http.StatusBadRequest {
			return Result{OK: true, Code: r.Code, Body: strings.ToValidUTF8(string(r.Body), "")}
		}

		log.Warn("device rejected command", zap.Int("code", r.Code), zap.String("body", truncateUTF8(r.Body, errorBodyKeep)))
		primary := Result{Code: r.Code, Detail: httpErrorDetail(r)}
		if fb, ok := d.cascade(ctx, log, target, d.Fallbacks.Lookup(TriggerHTTPError, action)); ok {
			return fb
		}
		return primary
	}

	kind := classify(err)
	switch kind {
	case failTimeout:
		log.Warn("command timed out", zap.Error(err))
		return Result{Code: http.StatusGatewayTimeout, Detail: "Timed out contacting device"}
	case failReset:
		log.Warn("command connection reset", zap.Error(err))
		if fb, ok := d.cascade(ctx, log, target, d.Fallbacks.Lookup(TriggerReset, action)); ok {
			return fb
		}
		return Result{Code: http.StatusBadGateway, Detail: "Connection reset by device: " + rootCause(err)}
	default:
		log.Warn("command transport error", zap.Error(err))
		return Result{Code: http.StatusBadGateway, Detail: rootCause(err)}
	}
}

// cascade 依次尝试回退策略，第一个 <400 的应答获胜
func (d *Dispatcher) cascade(ctx context.Context, log *zap.Logger, target string, seq []Strategy) (Result, bool) {
	for _, s := range seq {
		log.Debug("attempting fallback", zap.String("strategy", s.Label))
		r, err := d.request(ctx, s.Method, target, s.Path, s.ContentType, s.payload(), d.Timeout, maxReplyRead)
		if err != nil {
			log.Debug("fallback failed", zap.String("strategy", s.Label), zap.Error(err))
			continue
		}
		if r.Code >= http.StatusBadRequest {
			log.Debug("fallback rejected", zap.String("strategy", s.Label), zap.Int("code", r.Code))
			continue
		}
		log.Info("fallback succeeded", zap.String("strategy", s.Label), zap.Int("code", r.Code))
		return Result{OK: true, Code: r.Code, Body: strings.ToValidUTF8(string(r.Body), ""), Fallback: s.Label}, true
	}
	return Result{}, false
}

func (d *Dispatcher) observe(action string, res Result) {
	if d.Metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case !res.OK && res.Code == http.StatusGatewayTimeout:
		outcome = "timeout"
	case !res.OK:
		outcome = "error"
	case res.Fallback != "":
		outcome = "fallback"
		d.Metrics.FallbackTotal.WithLabelValues(res.Fallback).Inc()
	}
	d.Metrics.CommandTotal.WithLabelValues(metricAction(action), outcome).Inc()
}

// metricAction 收敛指标标签取值，未知动作归为 other
func metricAction(action string) string {
	switch a := strings.ToLower(action); a {
	case "reboot", "startap", "stopap", "disconnect", "connect", "reset", "status":
		return a
	default:
		return "other"
	}
}
