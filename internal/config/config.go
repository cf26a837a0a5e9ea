package config

import (
	"log/slog"
	"time"

	"github.com/creamcroissant/xray-client/internal/initsys"
)

// Config 汇总客户端的全部配置。用户可编辑的订阅与节点设置保存在 INI 文件中，
// 这里只包含路径、外部工具与运行参数。
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Firewall FirewallConfig `mapstructure:"firewall"`
	Log      LogConfig      `mapstructure:"log"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	API      APIConfig      `mapstructure:"api"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// PathsConfig 定义持久化文件位置。
type PathsConfig struct {
	Settings       string `mapstructure:"settings"`
	Registry       string `mapstructure:"registry"`
	EngineConfig   string `mapstructure:"engine_config"`
	ProxyProfile   string `mapstructure:"proxy_profile"`
	Environment    string `mapstructure:"environment"`
	ShellFunctions string `mapstructure:"shell_functions"`
}

// EngineConfig 定义 xray 服务控制参数。
type EngineConfig struct {
	Service     string         `mapstructure:"service"`
	Process     string         `mapstructure:"process"`
	InitSystem  initsys.Config `mapstructure:"init_system"`
	LogLevel    string         `mapstructure:"log_level"`
	AccessLog   string         `mapstructure:"access_log"`
	ErrorLog    string         `mapstructure:"error_log"`
	WaitTimeout time.Duration  `mapstructure:"wait_timeout"`
}

// FirewallConfig 定义 iptables 参数。
type FirewallConfig struct {
	Binary string `mapstructure:"binary"`
	Chain  string `mapstructure:"chain"`
}

// LogConfig 定义日志配置。File 仅在 TUI 模式下使用，避免日志破坏界面。
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
	File      string `mapstructure:"file"`
}

// FetchConfig 定义订阅下载参数。
type FetchConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// MonitorConfig 定义实时状态同步参数。
type MonitorConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	MessageTTL    time.Duration `mapstructure:"message_ttl"`
}

// ProbeConfig 定义延迟测试与连通性检测参数。
type ProbeConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Workers     int           `mapstructure:"workers"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	PingURL     string        `mapstructure:"ping_url"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// APIConfig 定义 serve 模式下的 JSON API。
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	Token           string        `mapstructure:"token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit 是每个来源 IP 每分钟允许的请求数，0 关闭限流。
	RateLimit       int           `mapstructure:"rate_limit"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// MetricsConfig 定义 Prometheus 指标配置。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
