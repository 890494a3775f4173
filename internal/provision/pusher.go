package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/esp-provision/internal/metrics"
)

// ApplyConfigPath 设备接收配置的路径
const ApplyConfigPath = "/apply-config"

// Settings 下发给设备的明文配置
type Settings struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
	APIHost  string `json:"api_host"`
}

// ConfigSource 提供当前的全局设备配置快照
type ConfigSource interface {
	Current(ctx context.Context) (Settings, error)
}

// Rebooter 下发重启指令，*Dispatcher 满足该接口
type Rebooter interface {
	Send(ctx context.Context, target, action string, payload map[string]any) Result
}

// PushOptions 单次下发选项
type PushOptions struct {
	// RebootOnReset 首次 POST 被重置连接时先尝试重启设备
	RebootOnReset bool
}

// PreProbe 下发前 GET / 预探测的结果，仅用于日志，不影响下发流程
type PreProbe struct {
	Responded bool
	Code      int
	Err       error
}

// Pusher 配置下发器
type Pusher struct {
	Endpoint
	Config   ConfigSource
	Rebooter Rebooter
	Logger   *zap.Logger
	Metrics  *metrics.AppMetrics

	TCPTimeout   time.Duration
	ProbeTimeout time.Duration
	PostTimeout  time.Duration
	Retries      int
	BackoffStep  time.Duration
	RebootWait   time.Duration
}

// NewPusher 使用默认时序参数创建下发器：TCP 3s，预探测 2s，POST 20s，重试 3 次，退避 0.8s×n，重启等待 5s
func NewPusher(ep Endpoint, cfg ConfigSource, rebooter Rebooter, logger *zap.Logger, m *metrics.AppMetrics) *Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pusher{
		Endpoint:     ep,
		Config:       cfg,
		Rebooter:     rebooter,
		Logger:       logger,
		Metrics:      m,
		TCPTimeout:   3 * time.Second,
		ProbeTimeout: 2 * time.Second,
		PostTimeout:  20 * time.Second,
		Retries:      3,
		BackoffStep:  800 * time.Millisecond,
		RebootWait:   5 * time.Second,
	}
}

// Push 读取当前配置并下发到 target
func (p *Pusher) Push(ctx context.Context, target string, opts PushOptions) Result {
	settings, err := p.Config.Current(ctx)
	if err != nil {
		p.Logger.Error("load device config failed", zap.String("target", target), zap.Error(err))
		res := Result{Code: http.StatusServiceUnavailable, Detail: "device config unavailable: " + err.Error()}
		p.observe(res)
		return res
	}
	return p.PushWith(ctx, target, settings, opts)
}

// PushWith 使用给定的配置快照下发，批量下发时所有设备共用同一快照
func (p *Pusher) PushWith(ctx context.Context, target string, settings Settings, opts PushOptions) Result {
	res := p.push(ctx, target, settings, opts)
	p.observe(res)
	return res
}

func (p *Pusher) push(ctx context.Context, target string, settings Settings, opts PushOptions) Result {
	log := p.Logger.With(zap.String("target", target))

	if err := p.TCPCheck(ctx, target, p.TCPTimeout); err != nil {
		log.Warn("push tcp connect failed", zap.Error(err))
		return Result{Code: http.StatusBadGateway, Detail: "TCP connect failed: " + err.Error()}
	}

	pre := p.preProbe(ctx, target)
	log.Debug("pre-push probe", zap.Bool("responded", pre.Responded), zap.Int("code", pre.Code), zap.NamedError("probe_error", pre.Err))

	body, err := json.Marshal(settings)
	if err != nil {
		return Result{Code: http.StatusInternalServerError, Detail: err.Error()}
	}

	total := p.Retries + 1
	rebootAttempted := false
	var last Result
	for attempt := 1; attempt <= total; attempt++ {
		p.countAttempt()
		r, err := p.request(ctx, http.MethodPost, target, ApplyConfigPath, ctJSON, body, p.PostTimeout, maxReplyRead)
		if err == nil {
			log.Info("config pushed", zap.Int("attempt", attempt), zap.Int("code", r.Code))
			return Result{
				OK:              true,
				Code:            r.Code,
				Body:            strings.ToValidUTF8(string(r.Body), ""),
				RebootAttempted: rebootAttempted,
				Attempts:        attempt,
			}
		}

		kind := classify(err)
		last = Result{Code: transportCode(kind), RebootAttempted: rebootAttempted, Attempts: attempt}
		switch kind {
		case failTimeout:
			log.Warn("push timed out", zap.Int("attempt", attempt), zap.Int("of", total), zap.Error(err))
			last.Detail = "Timed out connecting to device"
		case failReset:
			log.Warn("push connection reset", zap.Int("attempt", attempt), zap.Int("of", total), zap.Error(err))
			last.Detail = fmt.Sprintf("Connection reset by device (attempt %d/%d): %s", attempt, total, rootCause(err))
			if opts.RebootOnReset && attempt == 1 {
				last.Detail += p.rebootForRecovery(ctx, log, target)
				rebootAttempted = true
				last.RebootAttempted = true
			}
		default:
			log.Warn("push transport error", zap.Int("attempt", attempt), zap.Int("of", total), zap.Error(err))
			last.Detail = rootCause(err)
		}

		if attempt == total {
			break
		}
		select {
		case <-ctx.Done():
			last.Detail += " (cancelled: " + ctx.Err().Error() + ")"
			return last
		case <-time.After(p.BackoffStep * time.Duration(attempt)):
		}
	}
	return last
}

// preProbe 尽力而为的 GET /，结果显式返回后只记录日志
func (p *Pusher) preProbe(ctx context.Context, target string) PreProbe {
	r, err := p.request(ctx, http.MethodGet, target, "/", "", nil, p.ProbeTimeout, maxBodyRead)
	if err != nil {
		return PreProbe{Err: err}
	}
	return PreProbe{Responded: true, Code: r.Code}
}

// rebootForRecovery 下发重启；设备接受后等待其网络栈恢复。返回追加到错误详情的说明。
func (p *Pusher) rebootForRecovery(ctx context.Context, log *zap.Logger, target string) string {
	if p.Rebooter == nil {
		return " (reboot attempt failed: no command dispatcher)"
	}
	log.Info("attempting reboot after connection reset")
	rb := p.Rebooter.Send(ctx, target, "reboot", nil)
	if !rb.OK {
		log.Warn("reboot command failed", zap.Int("code", rb.Code), zap.String("detail", rb.Detail))
		return fmt.Sprintf(" (reboot attempt failed: %s)", rb.Detail)
	}

	log.Info("reboot accepted, waiting before retry", zap.Int("code", rb.Code), zap.Duration("wait", p.RebootWait))
	select {
	case <-ctx.Done():
	case <-time.After(p.RebootWait):
	}
	return fmt.Sprintf(" (reboot attempted, code=%d)", rb.Code)
}

func (p *Pusher) countAttempt() {
	if p.Metrics != nil {
		p.Metrics.PushAttemptsTotal.Inc()
	}
}

func (p *Pusher) observe(res Result) {
	if p.Metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case res.OK && !res.Accepted():
		outcome = "device_error"
	case !res.OK && res.Code == http.StatusGatewayTimeout:
		outcome = "timeout"
	case !res.OK && strings.HasPrefix(res.Detail, "Connection reset"):
		outcome = "reset"
	case !res.OK:
		outcome = "error"
	}
	p.Metrics.PushTotal.WithLabelValues(outcome).Inc()
}
