package ratelimit

import (
	"context"
	"time"
)

// Store defines the interface for rate limit storage backends.
// MemoryStore serves a single instance; RedisStore shares buckets across
// replicas.
type Store interface {
	// Allow consumes one token from key's bucket.
	Allow(ctx context.Context, key string, capacity, refillRate float64) (allowed bool, remaining float64, err error)

	// Remaining returns the tokens left in key's bucket without consuming.
	Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error)

	// Reset refills key's bucket.
	Reset(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     float64
	Remaining float64
	// RetryAfter is how long until one token is available again.
	RetryAfter time.Duration
	// ResetAfter is how long until the bucket is full again.
	ResetAfter time.Duration
}

// Limiter applies one token bucket per client key.
type Limiter struct {
	store      Store
	capacity   float64
	refillRate float64
}

// Config holds configuration for the rate limiter.
type Config struct {
	// Storage backend (optional, defaults to MemoryStore)
	Store Store

	RequestsPerSecond float64 // sustained rate per key
	BurstSize         float64 // burst capacity per key
}

// DefaultConfig suits report generation, where every call is a long
// upstream stream.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		BurstSize:         10,
	}
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	return &Limiter{
		store:      store,
		capacity:   cfg.BurstSize,
		refillRate: cfg.RequestsPerSecond,
	}
}

// Allow decides whether a request from key may proceed. Empty keys and store
// failures are allowed (fail open); err reports the store failure.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	d := Decision{Allowed: true, Limit: l.capacity, Remaining: l.capacity}
	if key == "" {
		return d, nil
	}

	allowed, remaining, err := l.store.Allow(ctx, key, l.capacity, l.refillRate)
	if err != nil {
		return d, err
	}
	d.Allowed = allowed
	d.Remaining = remaining
	d.ResetAfter = waitTime(remaining, l.capacity, l.refillRate)
	if !allowed {
		d.RetryAfter = waitTime(remaining, 1, l.refillRate)
	}
	return d, nil
}

// Remaining returns the tokens left for key.
func (l *Limiter) Remaining(ctx context.Context, key string) float64 {
	if key == "" {
		return l.capacity
	}
	remaining, err := l.store.Remaining(ctx, key, l.capacity, l.refillRate)
	if err != nil {
		return l.capacity
	}
	return remaining
}

// Reset refills key's bucket.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// Close stops the limiter and releases resources.
func (l *Limiter) Close() error {
	return l.store.Close()
}
