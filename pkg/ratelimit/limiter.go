// Package ratelimit enforces per-key request rates and per-tenant monthly
// event quotas.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultCapacity is the bucket size for keys without an explicit rate limit.
const DefaultCapacity = 100

// DefaultRefillInterval is how often a bucket refills to capacity.
const DefaultRefillInterval = 60 * time.Second

type bucket struct {
	tokens     int
	capacity   int
	lastRefill time.Time
}

// Limiter is a token-bucket limiter keyed by API key ID. Each bucket refills
// to capacity once per interval rather than dripping.
type Limiter struct {
	refill time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLimiter creates a limiter with the given refill interval.
func NewLimiter(refill time.Duration) *Limiter {
	if refill <= 0 {
		refill = DefaultRefillInterval
	}
	return &Limiter{
		refill:  refill,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token from the key's bucket and reports whether the
// request may proceed. Capacity changes (a key's rateLimit was edited) take
// effect on the next refill.
func (l *Limiter) Allow(keyID string, capacity int) bool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[keyID]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, lastRefill: now}
		l.buckets[keyID] = b
	}
	if now.Sub(b.lastRefill) >= l.refill {
		b.capacity = capacity
		b.tokens = capacity
		b.lastRefill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Remaining reports the tokens left for a key, for rate limit headers.
func (l *Limiter) Remaining(keyID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[keyID]; ok {
		return b.tokens
	}
	return 0
}
