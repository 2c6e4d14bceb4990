package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/response"
)

// RateLimiter limits requests per client IP with a fixed window counted in
// Redis, so the limit holds across replicas. When Redis is unreachable it
// falls back to a per-process token bucket.
type RateLimiter struct {
	rdb      *redis.Client
	log      zerolog.Logger
	rate     int
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter allowing rate requests per interval.
// rdb may be nil, in which case only the local bucket is used.
func NewRateLimiter(rdb *redis.Client, rate int, interval time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		log:      log.With().Str("component", "rate_limiter").Logger(),
		rate:     rate,
		interval: interval,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
// A non-positive rate disables limiting.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}

		ip := c.ClientIP()
		allowed, retryAfter := rl.allow(c, ip)
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(c *gin.Context, ip string) (bool, time.Duration) {
	if rl.rdb != nil {
		ok, retry, err := rl.allowRedis(c, ip)
		if err == nil {
			return ok, retry
		}
		rl.log.Warn().Err(err).Msg("Redis rate limit unavailable, using local bucket")
	}
	return rl.allowLocal(ip), rl.interval
}

func (rl *RateLimiter) allowRedis(c *gin.Context, ip string) (bool, time.Duration, error) {
	now := rl.now()
	window := now.UnixNano() / int64(rl.interval)
	key := config.CacheKey.StartLimitKey(ip, window)

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(c.Request.Context(), key)
	pipe.Expire(c.Request.Context(), key, rl.interval)
	if _, err := pipe.Exec(c.Request.Context()); err != nil {
		return false, 0, err
	}

	windowEnd := time.Unix(0, (window+1)*int64(rl.interval))
	return incr.Val() <= int64(rl.rate), windowEnd.Sub(now), nil
}

func (rl *RateLimiter) allowLocal(ip string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupLocked(now)

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{tokens: rl.rate, lastSeen: now}
		rl.visitors[ip] = v
	}

	// Refill whole intervals only.
	refill := int(now.Sub(v.lastSeen)/rl.interval) * rl.rate
	if refill > 0 {
		v.tokens = min(v.tokens+refill, rl.rate)
		v.lastSeen = now
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > 3*rl.interval {
			delete(rl.visitors, ip)
		}
	}
}
