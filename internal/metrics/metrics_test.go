package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value finds the sample of family name whose labels include want.
func value(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s %v not found", name, want)
	return 0
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.FeedResult("work", 5, 2, 1, nil)
	c.FeedResult("home", 0, 0, 0, errors.New("timeout"))
	c.Registry(5, time.Unix(1700000000, 0))
	c.Tun(true)
	c.EngineActive(false)
	err := c.ObserveAction("restart", func() error { return errors.New("boom") })
	require.Error(t, err)

	assert.Equal(t, 1.0, value(t, reg, "xray_client_subscription_updates_total", map[string]string{"subscription": "work", "result": "ok"}))
	assert.Equal(t, 1.0, value(t, reg, "xray_client_subscription_updates_total", map[string]string{"subscription": "home", "result": "error"}))
	assert.Equal(t, 5.0, value(t, reg, "xray_client_subscription_nodes_decoded_total", map[string]string{"subscription": "work"}))
	assert.Equal(t, 2.0, value(t, reg, "xray_client_subscription_parse_errors_total", map[string]string{"subscription": "work"}))
	assert.Equal(t, 5.0, value(t, reg, "xray_client_registry_nodes", nil))
	assert.Equal(t, 1700000000.0, value(t, reg, "xray_client_registry_update_timestamp_seconds", nil))
	assert.Equal(t, 1.0, value(t, reg, "xray_client_tun_enabled", nil))
	assert.Equal(t, 0.0, value(t, reg, "xray_client_engine_active", nil))
	assert.Equal(t, 1.0, value(t, reg, "xray_client_action_duration_seconds", map[string]string{"action": "restart", "result": "error"}))
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var c *Collectors
	c.FeedResult("x", 1, 0, 0, nil)
	c.Tun(true)
	assert.NoError(t, c.ObserveAction("noop", func() error { return nil }))

	// 重复构造不应触发重复注册 panic
	New(nil)
	New(nil)
}
