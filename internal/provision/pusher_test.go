package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticConfig 固定配置源
type staticConfig struct {
	settings Settings
	err      error
}

func (s staticConfig) Current(context.Context) (Settings, error) { return s.settings, s.err }

var testSettings = Settings{SSID: "lab-wifi", Password: "s3cret", APIHost: "http://10.0.0.2:8000"}

func newTestPusher() *Pusher {
	ep := NewEndpoint(DefaultPort)
	p := NewPusher(ep, staticConfig{settings: testSettings}, newTestDispatcher(), nil, nil)
	p.TCPTimeout = 500 * time.Millisecond
	p.ProbeTimeout = 200 * time.Millisecond
	p.PostTimeout = time.Second
	p.BackoffStep = time.Millisecond
	p.RebootWait = time.Millisecond
	return p
}

func TestPush_Success(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"GET /":              respondWith(http.StatusOK, "hello"),
		"POST /apply-config": respondWith(http.StatusOK, `{"status":"applied"}`),
	})

	res := newTestPusher().Push(context.Background(), dev.target(), PushOptions{})
	assert.True(t, res.OK)
	assert.True(t, res.Accepted())
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, `{"status":"applied"}`, res.Body)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.RebootAttempted)

	var sent Settings
	require.NoError(t, json.Unmarshal([]byte(dev.Bodies("POST /apply-config")[0]), &sent))
	assert.Equal(t, testSettings, sent)
}

func TestPush_Idempotent(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"POST /apply-config": respondWith(http.StatusOK, "ok"),
	})
	p := newTestPusher()

	first := p.Push(context.Background(), dev.target(), PushOptions{})
	second := p.Push(context.Background(), dev.target(), PushOptions{})
	assert.Equal(t, first, second)
	assert.True(t, second.OK)
	assert.Equal(t, http.StatusOK, second.Code)
}

func TestPush_TCPFailureSendsNothing(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"POST /apply-config": respondWith(http.StatusOK, "ok"),
	})
	p := newTestPusher()
	p.Dial = func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connect: no route to host")
	}

	res := p.Push(context.Background(), dev.target(), PushOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusBadGateway, res.Code)
	assert.True(t, strings.HasPrefix(res.Detail, "TCP connect failed: "))
	assert.Empty(t, dev.Events())
}

func TestPush_TCPFailureClosedPort(t *testing.T) {
	res := newTestPusher().Push(context.Background(), closedAddr(t), PushOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusBadGateway, res.Code)
	assert.Contains(t, res.Detail, "TCP connect failed")
}

func TestPush_AllTimeouts(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"POST /apply-config": hang,
	})
	p := newTestPusher()
	p.PostTimeout = 100 * time.Millisecond

	res := p.Push(context.Background(), dev.target(), PushOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusGatewayTimeout, res.Code)
	assert.Equal(t, "Timed out connecting to device", res.Detail)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, dev.Count("POST /apply-config"))
}

func TestPush_DeviceHTTPErrorNotRetried(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"POST /apply-config": respondWith(http.StatusInternalServerError, "flash write failed"),
	})

	res := newTestPusher().Push(context.Background(), dev.target(), PushOptions{})
	assert.True(t, res.OK)
	assert.False(t, res.Accepted())
	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.Equal(t, "flash write failed", res.Body)
	assert.Equal(t, 1, dev.Count("POST /apply-config"))
}

func TestPush_ResetRetriesThenSucceeds(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"POST /apply-config": sequence(resetConn, resetConn, respondWith(http.StatusOK, "ok")),
	})

	res := newTestPusher().Push(context.Background(), dev.target(), PushOptions{})
	assert.True(t, res.OK)
	assert.Equal(t, 3, res.Attempts)
	assert.Zero(t, dev.Count("POST /control"))
}

func TestPush_ResetExhausted(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"POST /apply-config": resetConn,
	})

	res := newTestPusher().Push(context.Background(), dev.target(), PushOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusBadGateway, res.Code)
	assert.Contains(t, res.Detail, "Connection reset by device (attempt 4/4)")
	assert.Equal(t, 4, dev.Count("POST /apply-config"))
}

func TestPush_RebootOnFirstReset(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"POST /apply-config": sequence(resetConn, respondWith(http.StatusOK, "ok")),
		"POST /control":      respondWith(http.StatusOK, `{"status":"rebooting"}`),
	})

	res := newTestPusher().Push(context.Background(), dev.target(), PushOptions{RebootOnReset: true})
	assert.True(t, res.OK)
	assert.True(t, res.RebootAttempted)
	assert.Equal(t, 2, res.Attempts)

	events := dev.Events()
	// 首次 POST 之后、第二次 POST 之前发出 reboot，且重启后不再重复预检
	assert.Equal(t, []string{"GET /", "POST /apply-config", "POST /control", "POST /apply-config"}, events)
	assert.Equal(t, []string{`{"action":"reboot"}`}, dev.Bodies("POST /control"))
}

func TestPush_RebootNoteInDetail(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"POST /apply-config": resetConn,
		"POST /control":      respondWith(http.StatusAccepted, ""),
	})
	p := newTestPusher()
	p.Retries = 0

	res := p.Push(context.Background(), dev.target(), PushOptions{RebootOnReset: true})
	assert.False(t, res.OK)
	assert.True(t, res.RebootAttempted)
	assert.Contains(t, res.Detail, "(reboot attempted, code=202)")
}

func TestPush_RebootFailureNoted(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"POST /apply-config": resetConn,
		"/control":           respondWith(http.StatusBadRequest, "unknown"),
	})
	p := newTestPusher()
	p.Retries = 0

	res := p.Push(context.Background(), dev.target(), PushOptions{RebootOnReset: true})
	assert.False(t, res.OK)
	assert.Contains(t, res.Detail, "(reboot attempt failed: HTTP 400: Bad Request. Body: unknown)")
}

func TestPush_PreProbeFailureIgnored(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"GET /":              resetConn,
		"POST /apply-config": respondWith(http.StatusOK, "ok"),
	})

	res := newTestPusher().Push(context.Background(), dev.target(), PushOptions{})
	assert.True(t, res.OK)
	assert.Equal(t, 1, dev.Count("POST /apply-config"))
}

func TestPush_ConfigUnavailable(t *testing.T) {
	p := newTestPusher()
	p.Config = staticConfig{err: errors.New("db down")}

	res := p.Push(context.Background(), "127.0.0.1:1", PushOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
}

func TestPushWith_UsesSnapshot(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"POST /apply-config": respondWith(http.StatusOK, "ok"),
	})
	snap := Settings{SSID: "snapshot", Password: "p", APIHost: "h"}

	res := newTestPusher().PushWith(context.Background(), dev.target(), snap, PushOptions{})
	require.True(t, res.OK)
	assert.Contains(t, dev.Bodies("POST /apply-config")[0], `"ssid":"snapshot"`)
}
