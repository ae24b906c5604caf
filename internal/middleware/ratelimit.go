// 包 middleware：入口限流
package middleware

import (
	"net/http"

	"area-link/internal/logger"
	"area-link/internal/utils"

	"golang.org/x/time/rate"
)

// DefaultQPS：未配置 RATE_LIMIT_QPS 时的每秒请求数
const DefaultQPS = 200

// 文档注释：令牌桶限流中间件
// 背景：在流量峰值时对入口进行限速，避免空间查询与数据库被过载；突发容量等于每秒速率。
// 约束：不做队列排队，超限直接返回 429。
func RateLimit(qps int) func(http.Handler) http.Handler {
	if qps <= 0 {
		qps = DefaultQPS
	}
	lim := rate.NewLimiter(rate.Limit(qps), qps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				logger.L().Debug("rate_limited", "path", r.URL.Path)
				w.Header().Set("retry-after", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Wrap：按 RATE_LIMIT_ENABLED / RATE_LIMIT_QPS 决定是否限流
func Wrap(next http.Handler) http.Handler {
	if !utils.EnvBool("RATE_LIMIT_ENABLED", false) {
		return next
	}
	qps := utils.EnvInt("RATE_LIMIT_QPS", DefaultQPS)
	logger.L().Info("rate_limit_enabled", "qps", qps)
	return RateLimit(qps)(next)
}
