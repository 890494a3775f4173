package provision

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProber() *Prober {
	return NewProber(NewEndpoint(DefaultPort), 500*time.Millisecond)
}

func TestProbe_FirstHTTPResponseWins(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"/": respondWith(http.StatusOK, `{"device":"esp32"}`),
	})

	res := newTestProber().Probe(context.Background(), dev.target(), time.Second)
	assert.True(t, res.OK)
	require.NotNil(t, res.Code)
	assert.Equal(t, http.StatusOK, *res.Code)
	require.NotNil(t, res.Body)
	assert.Equal(t, `{"device":"esp32"}`, *res.Body)
	assert.Equal(t, []string{"GET /"}, dev.Events())
}

func TestProbe_AnyStatusShortCircuits(t *testing.T) {
	// 404 也是 HTTP 应答，不再尝试后续路径
	dev := newFakeDevice(t, nil)

	res := newTestProber().Probe(context.Background(), dev.target(), time.Second)
	assert.True(t, res.OK)
	require.NotNil(t, res.Code)
	assert.Equal(t, http.StatusNotFound, *res.Code)
	assert.Len(t, dev.Events(), 1)
}

func TestProbe_FallsThroughPaths(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"/":     resetConn,
		"/info": respondWith(http.StatusOK, strings.Repeat("x", 2000)),
	})

	res := newTestProber().Probe(context.Background(), dev.target(), time.Second)
	assert.True(t, res.OK)
	require.NotNil(t, res.Body)
	assert.Len(t, *res.Body, probeBodyKeep)
	assert.Equal(t, []string{"GET /", "GET /info"}, dev.Events())
}

func TestProbe_TCPOnly(t *testing.T) {
	res := newTestProber().Probe(context.Background(), tcpOnly(t), time.Second)
	assert.True(t, res.OK)
	assert.Nil(t, res.Code)
	assert.Nil(t, res.Body)
}

func TestProbe_Unreachable(t *testing.T) {
	addr := closedAddr(t)
	res := newTestProber().Probe(context.Background(), addr, 300*time.Millisecond)
	assert.False(t, res.OK)
	assert.Equal(t, addr, res.IP)
	assert.Nil(t, res.Code)
}
