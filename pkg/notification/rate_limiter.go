package notification

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketRateLimiter allows up to capacity notifications per window,
// refilling evenly across it.
type TokenBucketRateLimiter struct {
	capacity int
	window   time.Duration

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewTokenBucketRateLimiter creates a new token bucket rate limiter. A
// non-positive capacity or window disables limiting.
func NewTokenBucketRateLimiter(capacity int, window time.Duration) *TokenBucketRateLimiter {
	tb := &TokenBucketRateLimiter{
		capacity: capacity,
		window:   window,
	}
	tb.limiter = tb.newLimiter()
	return tb
}

func (tb *TokenBucketRateLimiter) newLimiter() *rate.Limiter {
	if tb.capacity <= 0 || tb.window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(tb.window/time.Duration(tb.capacity)), tb.capacity)
}

// Allow checks if a request is allowed under the rate limit
func (tb *TokenBucketRateLimiter) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter.Allow()
}

// Reset resets the rate limiter to full capacity
func (tb *TokenBucketRateLimiter) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.limiter = tb.newLimiter()
}
