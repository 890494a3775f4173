package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoLocalNetwork 无法确定本机所在的局域网
var ErrNoLocalNetwork = errors.New("unable to determine local network")

// HostProber 扫描器依赖的探测接口，*Prober 满足该接口
type HostProber interface {
	Probe(ctx context.Context, ip string, tcpTimeout time.Duration) ProbeResult
}

// LocalIPv4 通过 UDP "连接" 公网地址获取出口 IPv4，不会真正发包。
// 失败或得到回环地址时返回 127.0.0.1 和 ErrNoLocalNetwork。
func LocalIPv4() (string, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1", fmt.Errorf("%w: %v", ErrNoLocalNetwork, err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.To4() == nil || addr.IP.IsLoopback() {
		return "127.0.0.1", ErrNoLocalNetwork
	}
	return addr.IP.To4().String(), nil
}

// Candidates 返回 localIP 所在 /24 的 .1 ~ .254
func Candidates(localIP string) ([]string, error) {
	addr, err := netip.ParseAddr(localIP)
	if err != nil || !addr.Is4() {
		return nil, fmt.Errorf("%w: %q is not an IPv4 address", ErrNoLocalNetwork, localIP)
	}
	if addr.IsLoopback() {
		return nil, ErrNoLocalNetwork
	}
	b := addr.As4()
	hosts := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		hosts = append(hosts, netip.AddrFrom4([4]byte{b[0], b[1], b[2], byte(i)}).String())
	}
	return hosts, nil
}

// Scanner 局域网 /24 扫描器：固定并发的 worker 池 + 整体截止时间
type Scanner struct {
	Prober     HostProber
	LocalIP    func() (string, error)
	Workers    int
	Deadline   time.Duration
	TCPTimeout time.Duration
	Logger     *zap.Logger
}

// NewScanner 创建扫描器
func NewScanner(prober HostProber, workers int, deadline, tcpTimeout time.Duration, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		Prober:     prober,
		LocalIP:    LocalIPv4,
		Workers:    workers,
		Deadline:   deadline,
		TCPTimeout: tcpTimeout,
		Logger:     logger,
	}
}

// Scan 并发探测本机所在 /24 的全部主机，仅返回可达设备（按 IP 去重、排序）。
// 截止时间到达时取消未完成的探测并返回已有结果。
func (s *Scanner) Scan(ctx context.Context) ([]ProbeResult, error) {
	localIP, err := s.LocalIP()
	if err != nil {
		return nil, err
	}
	hosts, err := Candidates(localIP)
	if err != nil {
		return nil, err
	}

	deadline := s.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	workers := s.Workers
	if workers <= 0 {
		workers = 40
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var (
		mu    sync.Mutex
		found = make(map[string]ProbeResult)
	)

	var g errgroup.Group
	g.SetLimit(workers)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ip := range hosts {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				r := s.Prober.Probe(ctx, ip, s.TCPTimeout)
				if r.OK {
					mu.Lock()
					found[r.IP] = r
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	partial := false
	select {
	case <-done:
	case <-ctx.Done():
		partial = true
	}

	mu.Lock()
	out := make([]ProbeResult, 0, len(found))
	for _, r := range found {
		out = append(out, r)
	}
	mu.Unlock()
	sortByIP(out)

	s.Logger.Info("lan scan finished",
		zap.String("local_ip", localIP),
		zap.Int("found", len(out)),
		zap.Bool("deadline_reached", partial),
	)
	return out, nil
}

func sortByIP(rs []ProbeResult) {
	sort.Slice(rs, func(i, j int) bool {
		a, errA := netip.ParseAddr(rs[i].IP)
		b, errB := netip.ParseAddr(rs[j].IP)
		if errA != nil || errB != nil {
			return rs[i].IP < rs[j].IP
		}
		return a.Less(b)
	})
}
