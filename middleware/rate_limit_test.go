package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerRateLimiter_AllowWithinLimit(t *testing.T) {
	clock := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	rl := NewTriggerRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return clock }

	for want := 2; want >= 0; want-- {
		allowed, remaining, _ := rl.Allow("10.0.0.1")
		assert.True(t, allowed)
		assert.Equal(t, want, remaining)
	}

	allowed, remaining, retryAfter := rl.Allow("10.0.0.1")
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, time.Minute, retryAfter)
}

func TestTriggerRateLimiter_WindowReset(t *testing.T) {
	clock := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	rl := NewTriggerRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return clock }

	rl.Allow("10.0.0.1")
	clock = clock.Add(30 * time.Second)
	rl.Allow("10.0.0.1")

	allowed, _, retryAfter := rl.Allow("10.0.0.1")
	assert.False(t, allowed)
	assert.Equal(t, 30*time.Second, retryAfter)

	// The window started at the first request, so one minute after
	// that the counter resets
	clock = clock.Add(30 * time.Second)
	allowed, remaining, _ := rl.Allow("10.0.0.1")
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
}

func TestTriggerRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewTriggerRateLimiter(1, time.Minute)

	allowed, _, _ := rl.Allow("10.0.0.1")
	require.True(t, allowed)
	allowed, _, _ = rl.Allow("10.0.0.1")
	require.False(t, allowed)

	allowed, _, _ = rl.Allow("10.0.0.2")
	assert.True(t, allowed)
}

func TestTriggerRateLimiter_Cleanup(t *testing.T) {
	clock := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	rl := NewTriggerRateLimiter(5, time.Minute)
	rl.now = func() time.Time { return clock }

	rl.Allow("10.0.0.1")
	clock = clock.Add(45 * time.Second)
	rl.Allow("10.0.0.2")

	clock = clock.Add(20 * time.Second)
	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "10.0.0.1")
	assert.Contains(t, rl.clients, "10.0.0.2")
}

func TestRateLimitWith_RejectsOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	clock := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	rl := NewTriggerRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return clock }

	router := gin.New()
	router.POST("/trigger", RateLimitWith(rl), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "queued"})
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
		req.RemoteAddr = "10.0.0.1:52000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := send()
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "Too many scrape triggers")
	assert.Contains(t, second.Body.String(), `"retry_after_seconds":60`)
}
