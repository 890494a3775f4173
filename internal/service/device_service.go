package service

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/esp-provision/internal/authz"
	"github.com/taoyao-code/esp-provision/internal/metrics"
	"github.com/taoyao-code/esp-provision/internal/provision"
	"github.com/taoyao-code/esp-provision/internal/secret"
	"github.com/taoyao-code/esp-provision/internal/storage"
	"github.com/taoyao-code/esp-provision/internal/storage/models"
)

// ErrNoScan 尚无缓存的扫描结果
var ErrNoScan = errors.New("no scan result cached")

// Pusher 配置下发能力，*provision.Pusher 满足该接口
type Pusher interface {
	Push(ctx context.Context, target string, opts provision.PushOptions) provision.Result
	PushWith(ctx context.Context, target string, settings provision.Settings, opts provision.PushOptions) provision.Result
}

// Commander 控制指令能力，*provision.Dispatcher 满足该接口
type Commander interface {
	Send(ctx context.Context, target, action string, payload map[string]any) provision.Result
}

// Scanner 局域网扫描能力，*provision.Scanner 满足该接口
type Scanner interface {
	Scan(ctx context.Context) ([]provision.ProbeResult, error)
}

// HostTester API 主机连通性测试，*provision.HostChecker 满足该接口
type HostTester interface {
	Check(ctx context.Context, rawURL string) provision.Result
}

// Target 操作目标：优先按设备 id，其次按裸 IP
type Target struct {
	DeviceID uint
	IP       string
}

// PushOutcome 批量下发中单台设备的结果；Detail 成功时为 {code, body}，失败时为错误描述
type PushOutcome struct {
	DeviceID uint   `json:"device_id"`
	IP       string `json:"ip"`
	OK       bool   `json:"ok"`
	Detail   any    `json:"detail"`
}

// DeviceReply 设备应答摘要
type DeviceReply struct {
	Code int    `json:"code"`
	Body string `json:"body"`
}

// DeviceService 设备注册、归属与编排
type DeviceService struct {
	repo      storage.DeviceRepo
	config    *ConfigService
	pusher    Pusher
	commander Commander
	scanner   Scanner
	hosts     HostTester
	cache     storage.ScanCache
	logger    *zap.Logger
	metrics   *metrics.AppMetrics
	now       func() time.Time
	newToken  func() (string, error)
}

// DeviceServiceDeps 构造依赖
type DeviceServiceDeps struct {
	Repo      storage.DeviceRepo
	Config    *ConfigService
	Pusher    Pusher
	Commander Commander
	Scanner   Scanner
	Hosts     HostTester
	Cache     storage.ScanCache
	Logger    *zap.Logger
	Metrics   *metrics.AppMetrics
}

// NewDeviceService 创建设备服务
func NewDeviceService(deps DeviceServiceDeps) *DeviceService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceService{
		repo:      deps.Repo,
		config:    deps.Config,
		pusher:    deps.Pusher,
		commander: deps.Commander,
		scanner:   deps.Scanner,
		hosts:     deps.Hosts,
		cache:     deps.Cache,
		logger:    logger,
		metrics:   deps.Metrics,
		now:       time.Now,
		newToken:  secret.NewDeviceToken,
	}
}

// Heartbeat 设备上报心跳，按 IP upsert；created 表示首次登记
func (s *DeviceService) Heartbeat(ctx context.Context, hb storage.Heartbeat) (device *models.DeviceInstance, created bool, err error) {
	hb.IP = strings.TrimSpace(hb.IP)
	if hb.IP == "" {
		return nil, false, invalidf("ip required")
	}
	if len(hb.IP) > 64 {
		return nil, false, invalidf("ip too long")
	}
	token, err := s.newToken()
	if err != nil {
		return nil, false, err
	}
	device, created, err = s.repo.UpsertHeartbeat(ctx, hb, token, s.now())
	if err != nil {
		return nil, false, err
	}
	if s.metrics != nil {
		s.metrics.HeartbeatTotal.Inc()
	}
	if created {
		s.logger.Info("device registered", zap.Uint("device_id", device.ID), zap.String("ip", device.IP))
	}
	return device, created, nil
}

// AuthenticateDevice 按设备令牌查找设备
func (s *DeviceService) AuthenticateDevice(ctx context.Context, token string) (*models.DeviceInstance, error) {
	return s.repo.FindByToken(ctx, token)
}

// Get 查询单台设备
func (s *DeviceService) Get(ctx context.Context, id uint) (*models.DeviceInstance, error) {
	return s.repo.GetDevice(ctx, id)
}

// List 最近活跃的设备
func (s *DeviceService) List(ctx context.Context, limit int) ([]models.DeviceInstance, error) {
	return s.repo.ListDevices(ctx, limit)
}

// Claim 使用配对码认领设备
func (s *DeviceService) Claim(ctx context.Context, actor authz.Actor, id uint, pairingCode string) (*models.DeviceInstance, error) {
	pairingCode = strings.TrimSpace(pairingCode)
	if id == 0 || pairingCode == "" {
		return nil, invalidf("device_id and pairing_code required")
	}
	device, err := s.repo.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.CanClaim(actor, device, pairingCode); err != nil {
		s.logger.Warn("claim rejected", zap.Uint("device_id", id), zap.String("user", actor.UserID), zap.Error(err))
		return nil, err
	}
	if err := s.repo.ClaimDevice(ctx, id, actor.UserID, s.now()); err != nil {
		return nil, err
	}
	if device.ClaimedBy != nil && *device.ClaimedBy != actor.UserID {
		s.logger.Info("device ownership transferred", zap.Uint("device_id", id),
			zap.String("from", *device.ClaimedBy), zap.String("to", actor.UserID))
	}
	s.logger.Info("device claimed", zap.Uint("device_id", id), zap.String("user", actor.UserID))
	return s.repo.GetDevice(ctx, id)
}

// Release 释放设备归属
func (s *DeviceService) Release(ctx context.Context, actor authz.Actor, id uint) (*models.DeviceInstance, error) {
	var released *models.DeviceInstance
	// 校验归属与清除在同一事务内，避免与并发认领交错
	err := s.repo.WithTx(ctx, func(repo storage.DeviceRepo) error {
		device, err := repo.GetDevice(ctx, id)
		if err != nil {
			return err
		}
		if err := authz.CanRelease(actor, device); err != nil {
			return err
		}
		if err := repo.ReleaseDevice(ctx, id); err != nil {
			return err
		}
		released, err = repo.GetDevice(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("device released", zap.Uint("device_id", id), zap.String("by", actor.UserID))
	return released, nil
}

// Token 返回设备令牌，regenerate 为 true 时先轮换
func (s *DeviceService) Token(ctx context.Context, actor authz.Actor, id uint, regenerate bool) (string, error) {
	if id == 0 {
		return "", invalidf("device_id required")
	}
	device, err := s.repo.GetDevice(ctx, id)
	if err != nil {
		return "", err
	}
	if err := authz.CanManageToken(actor, device); err != nil {
		return "", err
	}
	if !regenerate {
		return device.APIToken, nil
	}
	token, err := s.newToken()
	if err != nil {
		return "", err
	}
	if err := s.repo.SetAPIToken(ctx, id, token); err != nil {
		return "", err
	}
	s.logger.Info("device token regenerated", zap.Uint("device_id", id), zap.String("by", actor.UserID))
	return token, nil
}

// resolve 解析操作目标并校验权限，返回设备地址
func (s *DeviceService) resolve(ctx context.Context, actor authz.Actor, t Target) (string, error) {
	if t.DeviceID != 0 {
		device, err := s.repo.GetDevice(ctx, t.DeviceID)
		if err != nil {
			return "", err
		}
		if err := authz.CanOperate(actor, device); err != nil {
			return "", err
		}
		return device.IP, nil
	}
	ip := strings.TrimSpace(t.IP)
	if ip == "" {
		return "", invalidf("device_id or ip required")
	}
	if err := authz.CanOperateRawIP(actor); err != nil {
		return "", err
	}
	if !validTarget(ip) {
		return "", invalidf("invalid ip %q", ip)
	}
	return ip, nil
}

func validTarget(s string) bool {
	if net.ParseIP(s) != nil {
		return true
	}
	host, _, err := net.SplitHostPort(s)
	return err == nil && net.ParseIP(host) != nil
}

// Provision 向已登记设备下发配置（归属者或管理员）。
// 设备交互不随请求取消而中断。
func (s *DeviceService) Provision(ctx context.Context, actor authz.Actor, id uint, opts provision.PushOptions) (provision.Result, error) {
	return s.PushConfig(ctx, actor, Target{DeviceID: id}, opts)
}

// PushConfig 按设备 id 或裸 IP 下发配置
func (s *DeviceService) PushConfig(ctx context.Context, actor authz.Actor, t Target, opts provision.PushOptions) (provision.Result, error) {
	ip, err := s.resolve(ctx, actor, t)
	if err != nil {
		return provision.Result{}, err
	}
	ctx = context.WithoutCancel(ctx)
	res := s.pusher.Push(ctx, ip, opts)
	s.logger.Info("push config",
		zap.String("ip", ip), zap.Uint("device_id", t.DeviceID), zap.String("by", actor.UserID),
		zap.Bool("ok", res.OK), zap.Int("code", res.Code), zap.Int("attempts", res.Attempts),
	)
	return res, nil
}

// Control 下发控制指令
func (s *DeviceService) Control(ctx context.Context, actor authz.Actor, t Target, action string, payload map[string]any) (provision.Result, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return provision.Result{}, invalidf("action required")
	}
	ip, err := s.resolve(ctx, actor, t)
	if err != nil {
		return provision.Result{}, err
	}
	ctx = context.WithoutCancel(ctx)
	res := s.commander.Send(ctx, ip, action, payload)
	s.logger.Info("control command",
		zap.String("ip", ip), zap.String("action", action), zap.String("by", actor.UserID),
		zap.Bool("ok", res.OK), zap.Int("code", res.Code), zap.String("fallback", res.Fallback),
	)
	return res, nil
}

// PushAll 管理员向全部已登记设备顺序下发同一份配置快照，单台失败不影响其他设备
func (s *DeviceService) PushAll(ctx context.Context, actor authz.Actor, opts provision.PushOptions) ([]PushOutcome, error) {
	if err := authz.CanPushAll(actor); err != nil {
		return nil, err
	}
	devices, err := s.repo.ListAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.config.Current(ctx)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	out := make([]PushOutcome, 0, len(devices))
	for _, d := range devices {
		res := s.pusher.PushWith(ctx, d.IP, snapshot, opts)
		o := PushOutcome{DeviceID: d.ID, IP: d.IP, OK: res.OK}
		if res.OK {
			o.Detail = DeviceReply{Code: res.Code, Body: res.Body}
		} else {
			o.Detail = res.Detail
		}
		out = append(out, o)
	}
	s.logger.Info("push config to all devices", zap.String("by", actor.UserID), zap.Int("devices", len(out)))
	return out, nil
}

// Scan 扫描局域网并缓存结果
func (s *DeviceService) Scan(ctx context.Context, actor authz.Actor) ([]provision.ProbeResult, error) {
	if !actor.Authenticated() {
		return nil, authz.ErrUnauthenticated
	}
	start := s.now()
	found, err := s.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ScanDuration.Observe(time.Since(start).Seconds())
		s.metrics.ScanDevicesFound.Set(float64(len(found)))
	}
	if s.cache != nil {
		if err := s.cache.SaveScan(ctx, found); err != nil {
			s.logger.Warn("cache scan result failed", zap.Error(err))
		}
	}
	return found, nil
}

// LastScan 返回缓存的最近一次扫描结果
func (s *DeviceService) LastScan(ctx context.Context, actor authz.Actor) ([]provision.ProbeResult, error) {
	if !actor.Authenticated() {
		return nil, authz.ErrUnauthenticated
	}
	if s.cache == nil {
		return nil, ErrNoScan
	}
	var found []provision.ProbeResult
	ok, err := s.cache.LoadScan(ctx, &found)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoScan
	}
	return found, nil
}

// TestHost 从服务端测试 API 主机是否可达，需登录
func (s *DeviceService) TestHost(ctx context.Context, actor authz.Actor, rawURL string) (provision.Result, error) {
	if !actor.Authenticated() {
		return provision.Result{}, authz.ErrUnauthenticated
	}
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return provision.Result{}, invalidf("url required")
	}
	return s.hosts.Check(ctx, rawURL), nil
}
