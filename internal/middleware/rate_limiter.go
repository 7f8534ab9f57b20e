package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const visitorIdleTTL = 10 * time.Minute

// RateLimiterConfig configures rate limiting behavior
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterMap stores rate limiters per client IP
type rateLimiterMap struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	config   RateLimiterConfig
}

func newRateLimiterMap(config RateLimiterConfig) *rateLimiterMap {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &rateLimiterMap{
		visitors: make(map[string]*visitor),
		config:   config,
	}
}

func (rl *rateLimiterMap) getLimiter(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// sweep drops visitors idle for longer than ttl.
func (rl *rateLimiterMap) sweep(now time.Time, ttl time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > ttl {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *rateLimiterMap) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func (rl *rateLimiterMap) cleanup() {
	ticker := time.NewTicker(visitorIdleTTL)
	defer ticker.Stop()
	for now := range ticker.C {
		rl.sweep(now, visitorIdleTTL)
	}
}

// RateLimiterMiddleware limits requests per client IP
func RateLimiterMiddleware(config RateLimiterConfig) gin.HandlerFunc {
	limiterMap := newRateLimiterMap(config)
	go limiterMap.cleanup()
	return limiterMap.handle
}

func (rl *rateLimiterMap) handle(c *gin.Context) {
	now := time.Now()
	limiter := rl.getLimiter(c.ClientIP(), now)

	reservation := limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Rate limit exceeded. Please try again later.",
			"retry_after": delay.Seconds(),
		})
		return
	}
	c.Next()
}
