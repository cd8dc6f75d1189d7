package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"tempmail/inboxcast/internal/config"
)

// 闲置限流器清理参数
const (
	limiterCleanupInterval = 5 * time.Minute
	limiterMaxIdle         = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端 IP 限流
type RateLimiter struct {
	cfg     config.RateLimitConfig
	onBlock func(endpoint string)
	now     func() time.Time

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

// NewRateLimiter 创建限流器，onBlock 在请求被拒绝时调用，可为 nil
func NewRateLimiter(cfg config.RateLimitConfig, onBlock func(endpoint string)) *RateLimiter {
	if onBlock == nil {
		onBlock = func(string) {}
	}
	return &RateLimiter{
		cfg:      cfg,
		onBlock:  onBlock,
		now:      time.Now,
		limiters: make(map[string]*clientLimiter),
	}
}

// Enabled 报告限流是否开启
func (rl *RateLimiter) Enabled() bool {
	return rl.cfg.RPS > 0
}

func (rl *RateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.limiters[ip]
	if !ok {
		burst := rl.cfg.Burst
		if burst < 1 {
			burst = 1
		}
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RPS), burst)}
		rl.limiters[ip] = cl
	}
	cl.lastSeen = rl.now()
	return cl.limiter
}

// Middleware 返回限流中间件，超限时返回 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Enabled() {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		limiter := rl.get(clientIP)
		c.Header("X-RateLimit-Limit", strconv.FormatFloat(rl.cfg.RPS, 'f', -1, 64))

		if !limiter.Allow() {
			rl.onBlock(c.FullPath())
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "rate limit exceeded",
			})
			return
		}

		remaining := int(limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

// Cleanup 移除闲置超过 maxIdle 的客户端，返回移除数量
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for ip, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > maxIdle {
			delete(rl.limiters, ip)
			removed++
		}
	}
	return removed
}

// Len 返回当前跟踪的客户端数量
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Run 定期清理闲置客户端，直到 ctx 结束
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.Cleanup(limiterMaxIdle)
		}
	}
}
