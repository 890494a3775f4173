// Package provision 实现与 ESP 设备的 HTTP 交互：探测、局域网扫描、配置下发与控制指令。
// 所有对设备的调用都不返回 error，失败统一折叠为 Result。
package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultPort 设备 HTTP 端口
const DefaultPort = 80

const (
	maxBodyRead   = 1024 // 探测时最多读取的响应体字节数
	probeBodyKeep = 512  // 探测结果保留的响应体字节数
	errorBodyKeep = 256  // 错误详情中附带的响应体字节数
	maxReplyRead  = 64 << 10
)

// Doer 发送 HTTP 请求，*http.Client 满足该接口
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DialFunc TCP 拨号函数，测试中可替换
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// NewDeviceClient 返回访问设备用的 HTTP 客户端。
// 嵌入式 HTTP 栈常在响应后直接断开连接，因此禁用 keep-alive，每次请求新建连接。
func NewDeviceClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               nil,
			DialContext:         (&net.Dialer{KeepAlive: -1}).DialContext,
			DisableKeepAlives:   true,
			DisableCompression:  true,
			MaxIdleConnsPerHost: -1,
		},
	}
}

// Endpoint 设备地址解析与底层 I/O
type Endpoint struct {
	Port   int
	Client Doer
	Dial   DialFunc
}

// NewEndpoint port<=0 时使用默认端口 80
func NewEndpoint(port int) Endpoint {
	if port <= 0 {
		port = DefaultPort
	}
	return Endpoint{Port: port, Client: NewDeviceClient(), Dial: (&net.Dialer{}).DialContext}
}

// Addr 目标可以是裸 IP 或 host:port，裸 IP 时补上默认端口
func (e Endpoint) Addr(target string) string {
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target
	}
	port := e.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(target, strconv.Itoa(port))
}

func (e Endpoint) url(target, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + e.Addr(target) + path
}

// TCPCheck 在 timeout 内建立并立即关闭一条 TCP 连接
func (e Endpoint) TCPCheck(ctx context.Context, target string, timeout time.Duration) error {
	dial := e.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := dial(ctx, "tcp", e.Addr(target))
	if err != nil {
		return err
	}
	return conn.Close()
}

// reply 设备的 HTTP 响应（任何状态码）
type reply struct {
	Code   int
	Reason string
	Body   []byte
}

// request 发送一次请求；只有拿到 HTTP 响应才返回 nil error
func (e Endpoint) request(ctx context.Context, method, target, path, contentType string, body []byte, timeout time.Duration, limit int64) (*reply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, e.url(target, path), rd)
	if err != nil {
		return nil, err
	}
	if contentType != "" && body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	client := e.Client
	if client == nil {
		client = NewDeviceClient()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// 响应体读取失败不影响状态码判定
	b, _ := io.ReadAll(io.LimitReader(resp.Body, limit))
	return &reply{Code: resp.StatusCode, Reason: reasonPhrase(resp), Body: b}, nil
}

func reasonPhrase(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if r := strings.TrimPrefix(resp.Status, prefix); r != resp.Status && r != "" {
		return r
	}
	return http.StatusText(resp.StatusCode)
}

// failureKind 传输层失败分类
type failureKind int

const (
	failOther failureKind = iota
	failTimeout
	failReset
)

func (k failureKind) String() string {
	switch k {
	case failTimeout:
		return "timeout"
	case failReset:
		return "reset"
	default:
		return "error"
	}
}

// classify 超时优先于连接重置判定；对端在交换中途断开（EOF）按连接重置处理
func classify(err error) failureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return failTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return failReset
	}
	return failOther
}

// transportCode 传输失败对应的 HTTP 状态码
func transportCode(k failureKind) int {
	if k == failTimeout {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// rootCause 去掉 *url.Error 的 "Post \"http://...\":" 前缀，只保留底层原因
func rootCause(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err.Error()
	}
	return err.Error()
}

// truncateUTF8 按字节截断并丢弃被截断的半个字符
func truncateUTF8(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return strings.ToValidUTF8(string(b), "")
}

func httpErrorDetail(r *reply) string {
	detail := fmt.Sprintf("HTTP %d: %s", r.Code, r.Reason)
	if len(r.Body) > 0 {
		detail += ". Body: " + truncateUTF8(r.Body, errorBodyKeep)
	}
	return detail
}
