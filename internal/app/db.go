package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	cfgpkg "github.com/taoyao-code/esp-provision/internal/config"
	"github.com/taoyao-code/esp-provision/internal/storage/gormrepo"
)

// ConnectDBAndMigrate 建立数据库连接并按需执行迁移
func ConnectDBAndMigrate(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*gorm.DB, *gormrepo.Repository, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		log.Error("db connect error", zap.Error(err))
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		log.Error("db ping error", zap.Error(err))
		return nil, nil, err
	}

	repo := gormrepo.New(db)
	if cfg.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			log.Error("db migrate error", zap.Error(err))
			return db, nil, err
		}
		log.Info("db migrations applied", zap.String("driver", cfg.Driver))
	}
	return db, repo, nil
}
