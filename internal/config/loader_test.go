package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/etc/xray-client/config.ini", cfg.Paths.Settings)
	assert.Equal(t, "/usr/local/etc/xray/config.json", cfg.Paths.EngineConfig)
	assert.Equal(t, "xray", cfg.Engine.Service)
	assert.Equal(t, "auto", cfg.Engine.InitSystem.Type)
	assert.Equal(t, "XRAY", cfg.Firewall.Chain)
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.ActionTimeout)
	assert.Equal(t, 10, cfg.Probe.Workers)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
paths:
  registry: /tmp/nodes.json
engine:
  service: xray@main
  init_system:
    type: custom
    custom:
      start: /usr/bin/xray run
      stop: pkill xray
log:
  level: debug
probe:
  timeout: 2s
`), 0o644))
	t.Setenv("XRAYC_FIREWALL_CHAIN", "XRAY2")
	t.Setenv("XRAYC_API_ADDR", "127.0.0.1:9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "/tmp/nodes.json", cfg.Paths.Registry)
	assert.Equal(t, "/etc/xray-client/config.ini", cfg.Paths.Settings)
	assert.Equal(t, "xray@main", cfg.Engine.Service)
	assert.Equal(t, "custom", cfg.Engine.InitSystem.Type)
	assert.Equal(t, "pkill xray", cfg.Engine.InitSystem.Custom.Stop)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
	assert.Equal(t, 2*time.Second, cfg.Probe.Timeout)
	assert.Equal(t, "XRAY2", cfg.Firewall.Chain)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Addr)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
