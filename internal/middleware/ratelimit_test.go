package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLocalBucketRefillsPerInterval(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(nil, 2, time.Minute, zerolog.Nop())
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allowLocal("1.1.1.1"))
	assert.True(t, rl.allowLocal("1.1.1.1"))
	assert.False(t, rl.allowLocal("1.1.1.1"))
	assert.True(t, rl.allowLocal("2.2.2.2"))

	now = now.Add(59 * time.Second)
	assert.False(t, rl.allowLocal("1.1.1.1"))

	now = now.Add(2 * time.Second)
	assert.True(t, rl.allowLocal("1.1.1.1"))
	assert.True(t, rl.allowLocal("1.1.1.1"))
	assert.False(t, rl.allowLocal("1.1.1.1"))
}

func TestLocalBucketForgetsIdleVisitors(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(nil, 1, time.Minute, zerolog.Nop())
	rl.now = func() time.Time { return now }

	rl.allowLocal("1.1.1.1")
	now = now.Add(4 * time.Minute)
	rl.allowLocal("2.2.2.2")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.visitors, "1.1.1.1")
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", NewRateLimiter(nil, 0, time.Minute, zerolog.Nop()).Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}
