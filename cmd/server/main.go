package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/taoyao-code/esp-provision/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/esp-provision/internal/config"
	"github.com/taoyao-code/esp-provision/internal/logging"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "config file (default: $PROVISION_CONFIG or ./configs/example.yaml)")
	pflag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 启动
	if err := bootstrap.Run(cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
