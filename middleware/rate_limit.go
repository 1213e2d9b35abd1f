package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// clientWindow tracks requests from one client IP within the current
// counting window
type clientWindow struct {
	Count   int
	FirstAt time.Time
}

// TriggerRateLimiter caps how often a client may hit the manual scrape
// endpoints. Every accepted trigger turns into outbound quote and
// chain traffic, so the cap protects the upstream request budget
// rather than this server.
type TriggerRateLimiter struct {
	mu          sync.Mutex
	clients     map[string]*clientWindow
	maxRequests int
	window      time.Duration

	now func() time.Time
}

// Defaults for the manual trigger endpoints. A full watchlist pass
// already takes minutes, so a handful per window is plenty.
const (
	defaultTriggerLimit  = 5
	defaultTriggerWindow = 10 * time.Minute
)

var (
	triggerLimiter     *TriggerRateLimiter
	triggerLimiterOnce sync.Once
)

// NewTriggerRateLimiter creates a limiter allowing maxRequests per
// client IP within each window
func NewTriggerRateLimiter(maxRequests int, window time.Duration) *TriggerRateLimiter {
	return &TriggerRateLimiter{
		clients:     make(map[string]*clientWindow),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// Allow counts a request from ip and reports whether it fits the
// limit, how many requests remain in the window, and how long a
// rejected client must wait before retrying.
func (rl *TriggerRateLimiter) Allow(ip string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, exists := rl.clients[ip]
	if !exists || now.Sub(entry.FirstAt) >= rl.window {
		rl.clients[ip] = &clientWindow{Count: 1, FirstAt: now}
		return true, rl.maxRequests - 1, 0
	}

	if entry.Count >= rl.maxRequests {
		return false, 0, rl.window - now.Sub(entry.FirstAt)
	}

	entry.Count++
	return true, rl.maxRequests - entry.Count, 0
}

// cleanup removes windows that have fully expired
func (rl *TriggerRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, entry := range rl.clients {
		if now.Sub(entry.FirstAt) >= rl.window {
			delete(rl.clients, ip)
		}
	}
}

// startJanitor periodically clears stale client entries
func (rl *TriggerRateLimiter) startJanitor() {
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		rl.cleanup()
	}
}

// TriggerRateLimit limits manual scrape triggers per client IP using
// the shared default limiter
func TriggerRateLimit() gin.HandlerFunc {
	triggerLimiterOnce.Do(func() {
		triggerLimiter = NewTriggerRateLimiter(defaultTriggerLimit, defaultTriggerWindow)
		go triggerLimiter.startJanitor()
	})
	return RateLimitWith(triggerLimiter)
}

// RateLimitWith wraps a specific limiter instance. Over-limit requests
// are answered with 429 and a Retry-After hint.
func RateLimitWith(rl *TriggerRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, retryAfter := rl.Allow(c.ClientIP())
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":               formatTriggerLimitError(seconds),
				"retry_after_seconds": seconds,
			})
			return
		}

		c.Next()
	}
}

// formatTriggerLimitError formats the over-limit error message
func formatTriggerLimitError(seconds int) string {
	return fmt.Sprintf("Too many scrape triggers. Please try again in %d second(s).", seconds)
}
