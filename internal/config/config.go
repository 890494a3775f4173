package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// DatabaseConfig 数据库连接配置（postgres 或 sqlite）
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	AutoMigrate     bool          `mapstructure:"autoMigrate"`
}

// RedisConfig Redis 连接配置，disabled 时扫描缓存退化为进程内存
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"poolSize"`
	MinIdleConns int           `mapstructure:"minIdleConns"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	ScanCacheTTL time.Duration `mapstructure:"scanCacheTTL"`
}

// AuthConfig 操作者 JWT 认证配置
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwtSecret"`
	AccessTTL time.Duration `mapstructure:"accessTTL"`
}

// SecretsConfig 静态数据加密配置
type SecretsConfig struct {
	// ConfigKey base64 编码的 32 字节密钥，为空时以 base64 明文存储
	ConfigKey string `mapstructure:"configKey"`
}

// DeviceConfig 设备通信参数
type DeviceConfig struct {
	Port            int           `mapstructure:"port"`
	TCPTimeout      time.Duration `mapstructure:"tcpTimeout"`
	ScanTCPTimeout  time.Duration `mapstructure:"scanTcpTimeout"`
	ProbeTimeout    time.Duration `mapstructure:"probeTimeout"`
	PrePushTimeout  time.Duration `mapstructure:"prePushTimeout"`
	PostTimeout     time.Duration `mapstructure:"postTimeout"`
	CommandTimeout  time.Duration `mapstructure:"commandTimeout"`
	Retries         int           `mapstructure:"retries"`
	BackoffStep     time.Duration `mapstructure:"backoffStep"`
	RebootWait      time.Duration `mapstructure:"rebootWait"`
	ScanWorkers     int           `mapstructure:"scanWorkers"`
	ScanDeadline    time.Duration `mapstructure:"scanDeadline"`
	FallbacksPath   string        `mapstructure:"fallbacksPath"`
	TestHostTimeout time.Duration `mapstructure:"testHostTimeout"`
}

// RateLimitConfig 心跳接口限流
type RateLimitConfig struct {
	HeartbeatRPS   float64 `mapstructure:"heartbeatRps"`
	HeartbeatBurst int     `mapstructure:"heartbeatBurst"`
}

// Config 顶层配置结构
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Device    DeviceConfig    `mapstructure:"device"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 PROVISION_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("PROVISION_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// 环境变量覆盖：前缀 PROVISION_，并将点号替换为下划线
	v.SetEnvPrefix("PROVISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwtSecret is required when auth is enabled")
	}
	if c.Device.ScanWorkers <= 0 {
		return errors.New("config: device.scanWorkers must be positive")
	}
	if c.Device.Retries < 0 {
		return errors.New("config: device.retries must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "esp-provision")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "10s")
	// push 最坏情况约 4×20s + 退避 + 重启等待
	v.SetDefault("http.writeTimeout", "120s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/esp-provision.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:esp-provision.db?_busy_timeout=5000")
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.maxIdleConns", 10)
	v.SetDefault("database.connMaxLifetime", "1h")
	v.SetDefault("database.autoMigrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 20)
	v.SetDefault("redis.minIdleConns", 2)
	v.SetDefault("redis.dialTimeout", "5s")
	v.SetDefault("redis.readTimeout", "3s")
	v.SetDefault("redis.writeTimeout", "3s")
	v.SetDefault("redis.scanCacheTTL", "10m")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.accessTTL", "12h")

	v.SetDefault("device.port", 80)
	v.SetDefault("device.tcpTimeout", "3s")
	v.SetDefault("device.scanTcpTimeout", "600ms")
	v.SetDefault("device.probeTimeout", "1200ms")
	v.SetDefault("device.prePushTimeout", "2s")
	v.SetDefault("device.postTimeout", "20s")
	v.SetDefault("device.commandTimeout", "10s")
	v.SetDefault("device.retries", 3)
	v.SetDefault("device.backoffStep", "800ms")
	v.SetDefault("device.rebootWait", "5s")
	v.SetDefault("device.scanWorkers", 40)
	v.SetDefault("device.scanDeadline", "30s")
	v.SetDefault("device.testHostTimeout", "6s")

	v.SetDefault("ratelimit.heartbeatRps", 5)
	v.SetDefault("ratelimit.heartbeatBurst", 10)
}
