// Package ratelimit throttles requests per client key.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded is returned by CheckLimit when a key ran out of tokens
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// maxLimiters bounds the number of tracked keys before Cleanup resets them.
const maxLimiters = 10000

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// GetLimiter returns a limiter for the given key (email, IP, etc.)
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[key] = limiter
	}

	return limiter
}

// Allow checks if the request is allowed
func (rl *RateLimiter) Allow(key string) bool {
	return rl.GetLimiter(key).Allow()
}

// CheckLimit checks rate limit and returns error if exceeded
func (rl *RateLimiter) CheckLimit(key string) error {
	if !rl.Allow(key) {
		return ErrRateLimitExceeded
	}
	return nil
}

// Cleanup drops every limiter once too many keys are tracked.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.limiters) > maxLimiters {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanupWorker runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Config for the fiber middleware
type Config struct {
	Limiter *RateLimiter
	// KeyFunc defaults to the client IP.
	KeyFunc func(*fiber.Ctx) string
	// LimitReached defaults to a 429 JSON response.
	LimitReached fiber.Handler
}

// New returns a middleware that rejects requests over the limit.
func New(cfg Config) fiber.Handler {
	if cfg.Limiter == nil {
		panic("RATELIMIT: Limiter is required.")
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *fiber.Ctx) string {
			return c.IP()
		}
	}
	if cfg.LimitReached == nil {
		cfg.LimitReached = func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"message": "Too many requests, please try again later",
				"code":    "RATE_LIMITED",
			})
		}
	}

	return func(c *fiber.Ctx) error {
		if err := cfg.Limiter.CheckLimit(cfg.KeyFunc(c)); err != nil {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(cfg.Limiter.rps)))
			return cfg.LimitReached(c)
		}
		return c.Next()
	}
}

func retryAfterSeconds(rps rate.Limit) int {
	if rps <= 0 {
		return 60
	}
	return max(int(1/float64(rps)), 1)
}
