package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/taoyao-code/esp-provision/internal/api/middleware"
	cfgpkg "github.com/taoyao-code/esp-provision/internal/config"
	appmetrics "github.com/taoyao-code/esp-provision/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(ready bool) *Server {
	cfg := cfgpkg.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second}
	reg := appmetrics.NewRegistry()
	return New(cfg, "/metrics", appmetrics.Handler(reg), func() bool { return ready }, nil)
}

func serve(s *Server, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthzReadyzMetrics(t *testing.T) {
	srv := newTestServer(true)

	assert.Equal(t, http.StatusOK, serve(srv, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(srv, "/readyz").Code)

	rr := serve(srv, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestReadyzNotReady(t *testing.T) {
	srv := newTestServer(false)
	assert.Equal(t, http.StatusServiceUnavailable, serve(srv, "/readyz").Code)
}

func TestRegisterAndRequestID(t *testing.T) {
	srv := newTestServer(true)
	srv.Register(func(r *gin.Engine) {
		r.GET("/api/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	})

	rr := serve(srv, "/api/ping")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
}
