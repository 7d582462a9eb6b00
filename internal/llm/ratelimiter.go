package llm

import (
	"context"
	"sync"
	"time"
)

// TokenBucketRateLimiter throttles outgoing provider requests. The bucket
// starts full and refills refillAmount tokens every refill interval.
type TokenBucketRateLimiter struct {
	capacity     int
	tokens       int
	refillRate   time.Duration
	refillAmount int
	lastRefill   time.Time
	mu           sync.Mutex
}

// NewTokenBucketRateLimiter creates a limiter with the given capacity and
// refill schedule.
func NewTokenBucketRateLimiter(capacity int, refillInterval time.Duration, refillAmount int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		capacity:     capacity,
		tokens:       capacity,
		refillRate:   refillInterval,
		refillAmount: refillAmount,
		lastRefill:   time.Now(),
	}
}

// TryAcquire takes a token if one is available. When the bucket is empty it
// returns false and the wait until the next refill.
func (r *TokenBucketRateLimiter) TryAcquire() (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill)

	if elapsed >= r.refillRate {
		intervals := int(elapsed / r.refillRate)
		r.tokens += intervals * r.refillAmount
		if r.tokens > r.capacity {
			r.tokens = r.capacity
		}
		// Keep the remainder so partial intervals are not lost.
		r.lastRefill = now.Add(-(elapsed % r.refillRate))
	}

	if r.tokens > 0 {
		r.tokens--
		return true, 0
	}
	return false, r.refillRate - (now.Sub(r.lastRefill) % r.refillRate)
}

// AcquireCtx blocks until a token is available or the context is done.
func (r *TokenBucketRateLimiter) AcquireCtx(ctx context.Context) error {
	for {
		ok, wait := r.TryAcquire()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
