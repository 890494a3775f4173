package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// mockChecker 模拟检查器
type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) CheckResult {
	return CheckResult{Status: m.status, Message: "mock", Latency: time.Millisecond}
}

func TestAggregator(t *testing.T) {
	t.Run("全部健康", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"db", StatusHealthy}, &mockChecker{"lan", StatusHealthy})
		assert.Equal(t, StatusHealthy, agg.OverallStatus(context.Background()))
		assert.True(t, agg.Ready(context.Background()))
	})

	t.Run("部分降级仍然Ready", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"db", StatusHealthy}, &mockChecker{"redis", StatusDegraded})
		assert.Equal(t, StatusDegraded, agg.OverallStatus(context.Background()))
		assert.True(t, agg.Ready(context.Background()))
	})

	t.Run("部分不健康", func(t *testing.T) {
		agg := NewAggregator(
			&mockChecker{"db", StatusUnhealthy},
			&mockChecker{"redis", StatusDegraded},
		)
		assert.Equal(t, StatusUnhealthy, agg.OverallStatus(context.Background()))
		assert.False(t, agg.Ready(context.Background()))
	})

	t.Run("动态添加检查器", func(t *testing.T) {
		agg := NewAggregator(&mockChecker{"initial", StatusHealthy})
		agg.AddChecker(&mockChecker{"added", StatusHealthy})
		assert.Len(t, agg.CheckAll(context.Background()), 2)
	})

	t.Run("单个检查器超时", func(t *testing.T) {
		agg := NewAggregator(CheckerFunc{CheckName: "slow", Fn: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			return CheckResult{Status: StatusUnhealthy, Message: ctx.Err().Error()}
		}})
		agg.SetTimeout(20 * time.Millisecond)

		start := time.Now()
		results := agg.CheckAll(context.Background())
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	})
}

func TestLANChecker(t *testing.T) {
	ok := NewLANChecker(func() (string, error) { return "192.168.1.10", nil })
	assert.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)

	bad := NewLANChecker(func() (string, error) { return "127.0.0.1", errors.New("no route") })
	assert.Equal(t, StatusDegraded, bad.Check(context.Background()).Status)
}

func TestDatabaseChecker(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "health.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	res := NewDatabaseChecker(db).Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Contains(t, res.Details, "open_conns")
}

func TestHTTPRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterHTTPRoutes(r, NewAggregator(&mockChecker{"db", StatusUnhealthy}))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"unhealthy"`)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
