// ratelimit.go provides Gin middleware that enforces per-client rate limits,
// returning 429 responses when the configured requests-per-minute threshold is
// exceeded. Two limiter backends exist: a Redis-backed GCRA limiter shared
// across replicas, and an in-process token bucket for single-node deployments
// without Redis.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"log/slog"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often the in-memory backend evicts idle entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults for authenticated API usage
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
	}
}

// AuthRateLimitConfig returns stricter limits for the login endpoint
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10, // 10 login attempts per minute
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// ValidationRateLimitConfig returns limits for live credential validation,
// which fans out to upstream provider APIs and must stay well under their
// own rate limits.
func ValidationRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// Limiter is the rate limiting abstraction the middleware works against.
type Limiter interface {
	// Allow reports whether a request under key may proceed, and how many
	// requests remain in the current window.
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
	// Stop releases any background resources held by the limiter.
	Stop()
}

// ---------------------------------------------------------------------------
// Redis-backed limiter
// ---------------------------------------------------------------------------

// RedisLimiter enforces limits with the GCRA algorithm in Redis, so all
// replicas of the service share one budget per client.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisLimiter creates a Redis-backed limiter from a connected client.
func NewRedisLimiter(rdb *redis.Client, config RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Period: time.Minute,
			Burst:  config.BurstSize,
		},
	}
}

// Allow consults Redis. Redis being down fails open: availability of the API
// matters more than precise limiting during an outage, and the event is
// logged for alerting.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	res, err := rl.limiter.Allow(ctx, key, rl.limit)
	if err != nil {
		slog.Warn("rate limiter redis unavailable, failing open", "error", err)
		return true, rl.limit.Burst, nil
	}
	return res.Allowed > 0, res.Remaining, nil
}

// Stop is a no-op; the Redis client is owned by the caller.
func (rl *RedisLimiter) Stop() {}

// ---------------------------------------------------------------------------
// In-memory limiter
// ---------------------------------------------------------------------------

// rateLimitEntry tracks the token bucket for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter implements a per-process token bucket. Suitable only for
// single-replica deployments; multiple replicas each grant the full budget.
type MemoryLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewMemoryLimiter creates an in-memory limiter and starts its cleanup goroutine.
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	ml := &MemoryLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}
	go ml.cleanup()
	return ml
}

// cleanup periodically removes idle entries so the map does not grow without
// bound under churning client IPs.
func (ml *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(ml.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.mu.Lock()
			now := time.Now()
			for key, entry := range ml.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(ml.entries, key)
				}
			}
			ml.mu.Unlock()
		case <-ml.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (ml *MemoryLimiter) Stop() {
	close(ml.stopCh)
}

// Allow refills the client's bucket for the elapsed time and spends one token.
func (ml *MemoryLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	entry, exists := ml.entries[key]

	if !exists {
		// New client, give them full burst
		ml.entries[key] = &rateLimitEntry{
			tokens:     float64(ml.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true, ml.config.BurstSize - 1, nil
	}

	elapsed := now.Sub(entry.lastUpdate)
	tokensPerSecond := float64(ml.config.RequestsPerMinute) / 60.0
	entry.tokens = min(float64(ml.config.BurstSize), entry.tokens+elapsed.Seconds()*tokensPerSecond)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true, int(entry.tokens), nil
	}
	return false, 0, nil
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimitMiddleware creates a Gin middleware that rate limits requests
// using the given limiter backend.
func RateLimitMiddleware(limiter Limiter, config RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)

		allowed, remaining, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			// Limiter backends fail open internally; an error here is a bug,
			// not an outage, so let the request through.
			slog.Error("rate limiter error", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false, "error": "rate_limited", "code": "rate_limit_exceeded",
				"detail": "rate limit exceeded", "retry_after": 60,
			})
			return
		}

		c.Next()
	}
}

// rateLimitKey determines the key to use for rate limiting.
// Priority: user_id > access_token_id > IP address.
func rateLimitKey(c *gin.Context) string {
	if userID, exists := c.Get("user_id"); exists {
		if id, ok := userID.(string); ok && id != "" {
			return "user:" + id
		}
	}

	if tokenID, exists := c.Get("access_token_id"); exists {
		if id, ok := tokenID.(string); ok && id != "" {
			return "token:" + id
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
