package provision

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// HostChecker 服务端发起的 API 地址连通性测试
type HostChecker struct {
	Client  Doer
	Timeout time.Duration
}

// NewHostChecker timeout<=0 时为 6s
func NewHostChecker(timeout time.Duration) *HostChecker {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &HostChecker{Client: NewDeviceClient(), Timeout: timeout}
}

// Check 对 rawURL 发起 GET。任何 HTTP 应答都视为可达。
func (h *HostChecker) Check(ctx context.Context, rawURL string) Result {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{Code: http.StatusBadRequest, Detail: "Invalid URL: " + err.Error()}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Result{Code: http.StatusBadRequest, Detail: "Invalid URL: expected http(s)://host[:port]/"}
	}

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{Code: http.StatusBadRequest, Detail: "Invalid URL: " + err.Error()}
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return hostFailure(err)
	}
	_ = resp.Body.Close()
	return Result{OK: true, Code: resp.StatusCode}
}

func hostFailure(err error) Result {
	var dnsErr *net.DNSError
	switch {
	case classify(err) == failTimeout:
		return Result{Code: http.StatusGatewayTimeout, Detail: "Timed out contacting host"}
	case errors.Is(err, syscall.ECONNREFUSED):
		return Result{Code: http.StatusBadGateway, Detail: "Connection refused: no service listening at that host/port"}
	case errors.As(err, &dnsErr):
		return Result{Code: http.StatusBadGateway, Detail: "Name resolution failed (host not found)"}
	default:
		return Result{Code: http.StatusBadGateway, Detail: rootCause(err)}
	}
}
