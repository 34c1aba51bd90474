// ratelimit.go implements per-viewer rate limiting using a token bucket.
//
// How token bucket works:
// - Each viewer gets a "bucket" holding up to N tokens (N = RATE_LIMIT)
// - Each request consumes 1 token
// - Tokens refill at a steady rate (N tokens per hour)
// - If the bucket is empty, the request is rejected with 429 Too Many Requests
package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/document-viewer-api/internal/models"
)

// RateLimiter tracks request rates per viewer.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   float64
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// bucket tracks the token state for a single viewer.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// allowResult contains the result of a rate limit check,
// including header information for the response.
type allowResult struct {
	allowed   bool
	remaining float64
}

// NewRateLimiter creates a limiter allowing perHour requests per viewer.
// perHour <= 0 disables limiting.
func NewRateLimiter(perHour int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   float64(perHour),
		now:     time.Now,
		done:    make(chan struct{}),
	}

	// Start background cleanup goroutine
	go rl.cleanup()

	return rl
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

// RateLimit returns Gin middleware that enforces per-viewer limits. It must
// run after Authenticate.
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		viewer := GetViewer(c)
		if viewer == "" || rl.limit <= 0 {
			c.Next()
			return
		}

		result := rl.allow(viewer)
		c.Header("X-RateLimit-Limit", formatFloat(rl.limit))
		if !result.allowed {
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error:   "rate_limit_exceeded",
				Message: "Rate limit exceeded. Try again later.",
				Code:    http.StatusTooManyRequests,
			})
			return
		}
		c.Header("X-RateLimit-Remaining", formatFloat(result.remaining))

		c.Next()
	}
}

// allow checks if a request should be allowed, consuming a token if so.
func (rl *RateLimiter) allow(viewer string) allowResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[viewer]
	if !exists {
		b = &bucket{tokens: rl.limit, lastRefill: now}
		rl.buckets[viewer] = b
	}

	// Refill tokens based on elapsed time
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * rl.limit / 3600.0
	if b.tokens > rl.limit {
		b.tokens = rl.limit
	}
	b.lastRefill = now

	if b.tokens < 1.0 {
		return allowResult{allowed: false}
	}

	b.tokens--
	return allowResult{allowed: true, remaining: b.tokens}
}

// cleanup periodically removes stale buckets to prevent memory leaks.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		now := rl.now()
		for id, b := range rl.buckets {
			// A bucket idle for an hour is full again; dropping it changes nothing.
			if now.Sub(b.lastRefill) > time.Hour {
				delete(rl.buckets, id)
			}
		}
		rl.mu.Unlock()
	}
}

// formatFloat converts a float to a string for headers.
func formatFloat(f float64) string {
	return fmt.Sprintf("%.0f", f)
}
