// 文件路径: internal/api/middleware/security.go
// 模块说明: 安全中间件，包括按来源 IP 的固定窗口限流与请求体大小限制
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// RateLimiter 固定窗口计数，窗口到期后由 go-cache 自动清理。
type RateLimiter struct {
	mu     sync.Mutex
	counts *gocache.Cache
	limit  int
	window time.Duration
}

// NewRateLimiter 创建新的限流器
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counts: gocache.New(window, 2*window),
		limit:  limit,
		window: window,
	}
}

// Allow 检查是否允许请求，返回剩余次数与窗口重置时间。
func (rl *RateLimiter) Allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	count := 1
	if err := rl.counts.Add(key, 1, gocache.DefaultExpiration); err != nil {
		n, err := rl.counts.IncrementInt(key, 1)
		if err != nil {
			// 窗口刚好过期
			rl.counts.Set(key, 1, gocache.DefaultExpiration)
			n = 1
		}
		count = n
	}
	_, resetAt, _ := rl.counts.GetWithExpiration(key)
	if count > rl.limit {
		return false, 0, resetAt
	}
	return true, rl.limit - count, resetAt
}

// RateLimitConfig Rate Limit 配置
type RateLimitConfig struct {
	Limit     int           // 每个窗口的请求数，<= 0 关闭限流
	Window    time.Duration // 时间窗口
	SkipPaths []string
}

// RateLimit Rate Limiting 中间件，按 chi RealIP 处理后的 RemoteAddr 计数。
func RateLimit(config RateLimitConfig) func(http.Handler) http.Handler {
	if config.Limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	limiter := NewRateLimiter(config.Limit, config.Window)
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

			allowed, remaining, resetAt := limiter.Allow(clientIP(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())+1))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimit 请求体大小限制中间件，maxBytes <= 0 使用 64KiB。
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 64 << 10
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
