package provision

import (
	"context"
	"net/http"
	"time"
)

// DefaultProbePaths 探测时依次尝试的路径
var DefaultProbePaths = []string{"/", "/info", "/device-info"}

// Prober 两段式探测：先 TCP 连接，再逐个路径 GET
type Prober struct {
	Endpoint
	HTTPTimeout time.Duration
	Paths       []string
}

// NewProber 创建探测器
func NewProber(ep Endpoint, httpTimeout time.Duration) *Prober {
	if httpTimeout <= 0 {
		httpTimeout = 1200 * time.Millisecond
	}
	return &Prober{Endpoint: ep, HTTPTimeout: httpTimeout, Paths: DefaultProbePaths}
}

// Probe 探测 ip。TCP 失败即不可达；TCP 成功后第一个返回任意 HTTP 响应的路径即结束探测。
func (p *Prober) Probe(ctx context.Context, ip string, tcpTimeout time.Duration) ProbeResult {
	res := ProbeResult{IP: ip}
	if err := p.TCPCheck(ctx, ip, tcpTimeout); err != nil {
		return res
	}
	res.OK = true

	paths := p.Paths
	if len(paths) == 0 {
		paths = DefaultProbePaths
	}
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		r, err := p.request(ctx, http.MethodGet, ip, path, "", nil, p.HTTPTimeout, maxBodyRead)
		if err != nil {
			continue
		}
		code := r.Code
		body := truncateUTF8(r.Body, probeBodyKeep)
		res.Code = &code
		res.Body = &body
		break
	}
	return res
}
