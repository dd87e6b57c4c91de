package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"orderflow/pkg/metrics"
)

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type clientLimiter struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// clientLimiters hands out one token bucket per client IP and evicts
// buckets not seen within MaxAge so the map cannot grow without bound.
type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	cfg     RateLimitConfig
}

func newClientLimiters(cfg RateLimitConfig) *clientLimiters {
	cl := &clientLimiters{
		clients: make(map[string]*clientLimiter),
		cfg:     cfg,
	}
	go cl.evictLoop()
	return cl
}

func (cl *clientLimiters) get(ip string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	entry, ok := cl.clients[ip]
	if !ok {
		entry = &clientLimiter{
			bucket: rate.NewLimiter(rate.Limit(cl.cfg.RPS), cl.cfg.Burst),
		}
		cl.clients[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.bucket
}

func (cl *clientLimiters) evictLoop() {
	ticker := time.NewTicker(cl.cfg.CleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cl.cfg.MaxAge)
		cl.mu.Lock()
		for ip, entry := range cl.clients {
			if entry.lastSeen.Before(cutoff) {
				delete(cl.clients, ip)
			}
		}
		cl.mu.Unlock()
	}
}

// RateLimitMiddleware limits ingress per client IP. Payment gateways retry
// rejected webhook deliveries, so a 429 here is safe.
func RateLimitMiddleware(cfg RateLimitConfig) gin.HandlerFunc {
	limiters := newClientLimiters(cfg)
	limitHeader := strconv.Itoa(int(cfg.RPS))

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = c.RemoteIP()
		}

		bucket := limiters.get(ip)
		c.Header("X-RateLimit-Limit", limitHeader)

		if !bucket.Allow() {
			metrics.RateLimitedRequestsTotal.WithLabelValues(c.FullPath()).Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		remaining := int(bucket.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}
