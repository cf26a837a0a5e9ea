// Package metrics holds the Prometheus collectors for subscription updates,
// the node registry and engine state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "xray_client"

// Collectors groups every domain metric.
type Collectors struct {
	updates        *prometheus.CounterVec
	feedNodes      *prometheus.CounterVec
	feedErrors     *prometheus.CounterVec
	feedUnsupport  *prometheus.CounterVec
	registryNodes  prometheus.Gauge
	registryUpdate prometheus.Gauge
	tunEnabled     prometheus.Gauge
	engineActive   prometheus.Gauge
	actionDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses a private registry,
// which keeps repeated construction in tests from panicking.
func New(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Collectors{
		updates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "updates_total",
			Help:      "Subscription fetch attempts by outcome.",
		}, []string{"subscription", "result"}),
		feedNodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "nodes_decoded_total",
			Help:      "Nodes decoded from feeds.",
		}, []string{"subscription"}),
		feedErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "parse_errors_total",
			Help:      "Feed entries that failed to decode.",
		}, []string{"subscription"}),
		feedUnsupport: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "unsupported_total",
			Help:      "Feed entries with an unsupported scheme or type.",
		}, []string{"subscription"}),
		registryNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "nodes",
			Help:      "Nodes in the persisted registry.",
		}),
		registryUpdate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "update_timestamp_seconds",
			Help:      "Unix time of the last successful registry write.",
		}),
		tunEnabled: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tun",
			Name:      "enabled",
			Help:      "1 when transparent proxying is active.",
		}),
		engineActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active",
			Help:      "1 when the engine service reports active.",
		}),
		actionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of client operations.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"action", "result"}),
	}
}

// FeedResult records one subscription fetch.
func (c *Collectors) FeedResult(subscription string, nodes, parseErrors, unsupported int, fetchErr error) {
	if c == nil {
		return
	}
	if fetchErr != nil {
		c.updates.WithLabelValues(subscription, "error").Inc()
		return
	}
	c.updates.WithLabelValues(subscription, "ok").Inc()
	c.feedNodes.WithLabelValues(subscription).Add(float64(nodes))
	c.feedErrors.WithLabelValues(subscription).Add(float64(parseErrors))
	c.feedUnsupport.WithLabelValues(subscription).Add(float64(unsupported))
}

// Registry records the persisted registry size.
func (c *Collectors) Registry(nodes int, updated time.Time) {
	if c == nil {
		return
	}
	c.registryNodes.Set(float64(nodes))
	if !updated.IsZero() {
		c.registryUpdate.Set(float64(updated.Unix()))
	}
}

func (c *Collectors) Tun(enabled bool) {
	if c == nil {
		return
	}
	c.tunEnabled.Set(boolGauge(enabled))
}

func (c *Collectors) EngineActive(active bool) {
	if c == nil {
		return
	}
	c.engineActive.Set(boolGauge(active))
}

// ObserveAction times fn under the given action label.
func (c *Collectors) ObserveAction(action string, fn func() error) error {
	start := time.Now()
	err := fn()
	if c != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		c.actionDuration.WithLabelValues(action, result).Observe(time.Since(start).Seconds())
	}
	return err
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
