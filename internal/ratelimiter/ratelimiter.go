package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// unlimited stands in for a zero rate. rate.Inf has edge cases with burst
// accounting, so a very large finite limit is used instead.
const unlimited = 1_000_000_000

// RateLimiter is a token bucket limiter wrapping golang.org/x/time/rate.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained with bursts
// of up to burst requests. requestsPerSecond = 0 disables limiting.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimited
		burst = unlimited
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the number of tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// KeyedLimiter keeps one token bucket per key. The mount tracker keys it by
// the caller's unique bus name so that one misbehaving backend cannot starve
// the others, and forgets the key once the caller leaves the bus.
type KeyedLimiter struct {
	requestsPerSecond uint
	burst             uint

	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

// NewKeyed creates a KeyedLimiter whose buckets share the given rate and
// burst. requestsPerSecond = 0 disables limiting.
func NewKeyed(requestsPerSecond, burst uint) *KeyedLimiter {
	return &KeyedLimiter{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		limiters:          make(map[string]*RateLimiter),
	}
}

// Enabled reports whether the limiter restricts anything.
func (k *KeyedLimiter) Enabled() bool {
	return k.requestsPerSecond > 0
}

// Allow reports whether a request from key may proceed now.
func (k *KeyedLimiter) Allow(key string) bool {
	if !k.Enabled() {
		return true
	}
	return k.get(key).Allow()
}

// Forget drops the bucket of key.
func (k *KeyedLimiter) Forget(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.limiters, key)
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

func (k *KeyedLimiter) get(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		l = New(k.requestsPerSecond, k.burst)
		k.limiters[key] = l
	}
	return l
}
