package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. XRAYC_LOG_LEVEL.
const EnvPrefix = "XRAYC"

// Load reads the config file at path, or searches the default locations
// when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Default settings
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("client")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/xray-client/")
		v.AddConfigPath(".")
	}

	// Environment variable settings
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// defaults and env are enough
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.settings", "/etc/xray-client/config.ini")
	v.SetDefault("paths.registry", "/etc/xray-client/subscription/nodes.json")
	v.SetDefault("paths.engine_config", "/usr/local/etc/xray/config.json")
	v.SetDefault("paths.proxy_profile", "/etc/profile.d/xray-proxy.sh")
	v.SetDefault("paths.environment", "/etc/environment")
	v.SetDefault("paths.shell_functions", "/etc/profile.d/xray-client-functions.sh")

	v.SetDefault("engine.service", "xray")
	v.SetDefault("engine.process", "xray")
	v.SetDefault("engine.init_system.type", "auto")
	v.SetDefault("engine.log_level", "warning")
	v.SetDefault("engine.access_log", "/var/log/xray/access.log")
	v.SetDefault("engine.error_log", "/var/log/xray/error.log")
	v.SetDefault("engine.wait_timeout", "5s")

	v.SetDefault("firewall.binary", "iptables")
	v.SetDefault("firewall.chain", "XRAY")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "/var/log/xray-client.log")

	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	v.SetDefault("monitor.interval", "1s")
	v.SetDefault("monitor.action_timeout", "5m")
	v.SetDefault("monitor.message_ttl", "5s")

	v.SetDefault("probe.timeout", "5s")
	v.SetDefault("probe.workers", 10)
	v.SetDefault("probe.cache_ttl", "10m")
	v.SetDefault("probe.ping_url", "https://www.google.com")
	v.SetDefault("probe.ping_timeout", "10s")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", "127.0.0.1:8787")
	v.SetDefault("api.shutdown_timeout", "10s")
	v.SetDefault("api.rate_limit", 120)
	v.SetDefault("api.max_body_bytes", 64<<10)

	v.SetDefault("metrics.enabled", true)
}
