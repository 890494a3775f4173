package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig 按客户端 IP 的令牌桶限流配置
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter 每个客户端 IP 一个令牌桶，空闲超过 idle 的条目在后续请求时回收
type ipLimiter struct {
	mu       sync.Mutex
	cfg      RateLimitConfig
	idle     time.Duration
	visitors map[string]*visitor
	lastGC   time.Time
	now      func() time.Time
}

func newIPLimiter(cfg RateLimitConfig) *ipLimiter {
	return &ipLimiter{
		cfg:      cfg,
		idle:     10 * time.Minute,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastGC) > l.idle {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idle {
				delete(l.visitors, k)
			}
		}
		l.lastGC = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RateLimit 超出限额返回 429；RPS<=0 时不限流
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RPS <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	l := newIPLimiter(cfg)
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}
