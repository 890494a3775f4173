package app

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/taoyao-code/esp-provision/internal/health"
	"github.com/taoyao-code/esp-provision/internal/provision"
)

// NewHealthAggregator 创建健康检查聚合器：数据库与局域网出口
func NewHealthAggregator(db *gorm.DB) *health.Aggregator {
	return health.NewAggregator(
		health.NewDatabaseChecker(db),
		health.NewLANChecker(provision.LocalIPv4),
	)
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}
