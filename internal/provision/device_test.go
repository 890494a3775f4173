package provision

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeDevice 模拟 ESP 设备的 HTTP 服务并记录收到的请求
type fakeDevice struct {
	*httptest.Server
	mu     sync.Mutex
	events []string
	bodies map[string][]string
}

func newFakeDevice(t *testing.T, routes map[string]http.HandlerFunc) *fakeDevice {
	t.Helper()
	d := &fakeDevice{bodies: make(map[string][]string)}
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		key := r.Method + " " + r.URL.Path
		d.mu.Lock()
		d.events = append(d.events, key)
		d.bodies[key] = append(d.bodies[key], string(body))
		d.mu.Unlock()

		if h, ok := routes[key]; ok {
			h(w, r)
			return
		}
		if h, ok := routes[r.URL.Path]; ok {
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(d.Close)
	return d
}

// target 返回 host:port 形式的目标地址
func (d *fakeDevice) target() string {
	return strings.TrimPrefix(d.URL, "http://")
}

func (d *fakeDevice) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *fakeDevice) Count(key string) int {
	n := 0
	for _, e := range d.Events() {
		if e == key {
			n++
		}
	}
	return n
}

func (d *fakeDevice) Bodies(key string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.bodies[key]...)
}

func respondWith(code int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}
}

// resetConn 不写任何响应直接断开连接
func resetConn(w http.ResponseWriter, _ *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("hijack not supported")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	_ = conn.Close()
}

// hang 直到客户端放弃
func hang(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
	}
}

// sequence 按调用次数依次使用不同的处理器，超出后沿用最后一个
func sequence(hs ...http.HandlerFunc) http.HandlerFunc {
	var mu sync.Mutex
	n := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		h := hs[min(n, len(hs)-1)]
		n++
		mu.Unlock()
		h(w, r)
	}
}

// closedAddr 返回一个当前没有监听者的本地地址
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// tcpOnly 接受连接后立即关闭，模拟只有 TCP 可达的主机
func tcpOnly(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}
