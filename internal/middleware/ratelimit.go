package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a bucket may go unused before it is dropped.
const limiterIdleTTL = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter keeps one token bucket per API key, falling back to client ip.
// Buckets idle for longer than limiterIdleTTL are swept on later lookups.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*bucket
	rateVal   rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*bucket),
		rateVal:  rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, b := range l.limiters {
			if now.Sub(b.seen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.limiters[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rateVal, l.burst)}
		l.limiters[key] = b
	}
	b.seen = now
	return b.lim
}

// Allow reports whether one more request for key fits the bucket.
func (l *RateLimiter) Allow(key string) bool {
	now := l.now()
	return l.limiter(key, now).AllowN(now, 1)
}

// Middleware answers 429 once a caller exhausts its bucket. A nil limiter
// lets everything through.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		key := APIKeyFromContext(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !l.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
