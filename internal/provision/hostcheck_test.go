package provision

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHostChecker(t *testing.T) {
	dev := newFakeDevice(t, map[string]http.HandlerFunc{
		"/api/ping": respondWith(http.StatusOK, `{"status":"ok"}`),
		"/slow":     hang,
	})
	h := NewHostChecker(200 * time.Millisecond)

	t.Run("可达", func(t *testing.T) {
		res := h.Check(context.Background(), dev.URL+"/api/ping")
		assert.True(t, res.OK)
		assert.Equal(t, http.StatusOK, res.Code)
	})

	t.Run("非2xx也算可达", func(t *testing.T) {
		res := h.Check(context.Background(), dev.URL+"/missing")
		assert.True(t, res.OK)
		assert.Equal(t, http.StatusNotFound, res.Code)
	})

	t.Run("超时", func(t *testing.T) {
		res := h.Check(context.Background(), dev.URL+"/slow")
		assert.False(t, res.OK)
		assert.Equal(t, http.StatusGatewayTimeout, res.Code)
	})

	t.Run("连接被拒绝", func(t *testing.T) {
		res := h.Check(context.Background(), "http://"+closedAddr(t)+"/")
		assert.Equal(t, http.StatusBadGateway, res.Code)
		assert.Contains(t, res.Detail, "Connection refused")
	})

	t.Run("非法URL", func(t *testing.T) {
		res := h.Check(context.Background(), "ftp://example.com")
		assert.Equal(t, http.StatusBadRequest, res.Code)
		res = h.Check(context.Background(), "://bad")
		assert.Equal(t, http.StatusBadRequest, res.Code)
	})
}
