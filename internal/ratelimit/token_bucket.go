package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a thread-safe token bucket.
// The bucket is refilled at a constant rate and allows bursts up to capacity.
type TokenBucket struct {
	capacity   float64 // burst size
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// NewTokenBucket creates a full bucket.
//   - capacity: maximum number of tokens (burst size)
//   - refillRate: tokens added per second (sustained rate)
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	return newTokenBucketAt(capacity, refillRate, time.Now)
}

func newTokenBucketAt(capacity, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN consumes n tokens if available.
func (tb *TokenBucket) AllowN(n float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

// Remaining returns the number of tokens currently available.
func (tb *TokenBucket) Remaining() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.tokens
}

// Reset refills the bucket.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = tb.now()
}

// Full reports whether the bucket has refilled completely, i.e. its key has
// been idle long enough to forget.
func (tb *TokenBucket) Full() bool {
	return tb.Remaining() >= tb.capacity
}

// must be called with lock held
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now
}

// waitTime returns how long until tokens reach want at refillRate.
func waitTime(remaining, want, refillRate float64) time.Duration {
	if remaining >= want || refillRate <= 0 {
		return 0
	}
	secondsNeeded := (want - remaining) / refillRate
	return time.Duration(secondsNeeded * float64(time.Second))
}
