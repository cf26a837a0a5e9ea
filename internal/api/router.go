// 文件路径: internal/api/router.go
// 模块说明: serve 模式下的 HTTP 路由，提供 JSON 控制接口、健康检查与 Prometheus 指标。
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creamcroissant/xray-client/internal/api/handler"
	"github.com/creamcroissant/xray-client/internal/api/middleware"
	"github.com/creamcroissant/xray-client/internal/config"
)

// Options wires the router.
type Options struct {
	API     config.APIConfig
	Metrics config.MetricsConfig
	// Registry receives the HTTP collectors and is served on /metrics.
	// Nil uses the default registry.
	Registry *prometheus.Registry
}

var skipPaths = []string{"/healthz", "/metrics"}

// NewRouter wires the client endpoints.
func NewRouter(logger *slog.Logger, svc handler.Service, opts Options) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if opts.Registry != nil {
		registerer, gatherer = opts.Registry, opts.Registry
	}

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.RequestID,
		chiMiddleware.RealIP,
	)
	if opts.Metrics.Enabled {
		metrics := middleware.NewMetrics(registerer, middleware.MetricsConfig{SkipPaths: skipPaths})
		r.Use(metrics.Middleware)
	}
	r.Use(
		middleware.StructuredLogger(middleware.LoggingConfig{
			Logger:    logger,
			SkipPaths: skipPaths,
		}),
		chiMiddleware.Recoverer,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Prometheus metrics endpoint
	if opts.Metrics.Enabled {
		r.With(middleware.TokenGuard(opts.Metrics.Token)).
			Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	h := handler.NewClientHandler(svc)
	r.Route("/api", func(api chi.Router) {
		api.Use(
			middleware.RateLimit(middleware.RateLimitConfig{Limit: opts.API.RateLimit, Window: time.Minute}),
			middleware.TokenGuard(opts.API.Token),
			middleware.BodyLimit(opts.API.MaxBodyBytes),
		)
		api.Get("/nodes", h.Nodes)
		api.Get("/status", h.Status)
		api.Post("/select", h.Select)
		api.Post("/update", h.Update)
		api.Post("/restart", h.Restart)
		api.Post("/test", h.Latency)
		api.Post("/ping", h.Ping)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response JSON", "error", err)
	}
}
