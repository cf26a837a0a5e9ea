// 文件路径: internal/api/middleware/logging.go
// 模块说明: 结构化请求日志，带请求 ID，慢请求提升为 WARN
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// LoggingConfig 日志中间件配置
type LoggingConfig struct {
	Logger        *slog.Logger
	SlowThreshold time.Duration // 超过此时间记录为 WARN
	SkipPaths     []string      // 跳过日志的路径（如健康检查）
}

// StructuredLogger logs one line per request.
func StructuredLogger(config LoggingConfig) func(http.Handler) http.Handler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.SlowThreshold == 0 {
		config.SlowThreshold = 10 * time.Second
	}

	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID == "" {
				requestID = "unknown"
			}

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", duration),
				slog.String("remote_addr", r.RemoteAddr),
			}

			level := slog.LevelInfo
			msg := "request completed"
			switch {
			case status >= 500:
				level, msg = slog.LevelError, "request failed"
			case status >= 400:
				level, msg = slog.LevelWarn, "request error"
			case duration > config.SlowThreshold:
				level, msg = slog.LevelWarn, "slow request"
			}
			config.Logger.LogAttrs(r.Context(), level, msg, attrs...)
		})
	}
}
