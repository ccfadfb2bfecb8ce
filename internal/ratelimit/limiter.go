// Package ratelimit provides per-key token bucket rate limiting.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

const defaultMaxKeys = 10000

// bucket is a token bucket. Callers hold the limiter's lock.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter rate limits requests per key, for example per client session.
// A limiter with a non-positive rate allows everything.
type Limiter struct {
	mu      sync.Mutex
	rate    float64
	burst   float64
	buckets map[string]*bucket
	maxKeys int
	now     func() time.Time
}

// New creates a limiter refilling at rate tokens per second up to burst.
// A non-positive burst defaults to twice the rate, and at least one.
func New(rate float64, burst int) *Limiter {
	b := float64(burst)
	if b <= 0 {
		b = math.Max(1, math.Ceil(rate*2))
	}
	return &Limiter{
		rate:    rate,
		burst:   b,
		buckets: make(map[string]*bucket),
		maxKeys: defaultMaxKeys,
		now:     time.Now,
	}
}

// Enabled reports whether the limiter restricts anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rate > 0
}

// Allow consumes one token for key. When it returns false, retryAfter is the
// time until a token becomes available.
func (l *Limiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	if !l.Enabled() {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, exists := l.buckets[key]
	if !exists {
		if len(l.buckets) >= l.maxKeys {
			l.pruneLocked(now)
		}
		b = &bucket{tokens: l.burst, lastRefill: now}
		l.buckets[key] = b
	}
	l.refillLocked(b, now)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := (1 - b.tokens) / l.rate
	return false, time.Duration(wait * float64(time.Second))
}

func (l *Limiter) refillLocked(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens = math.Min(l.burst, b.tokens+elapsed*l.rate)
}

// pruneLocked drops buckets that have refilled, which belong to idle keys.
func (l *Limiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		l.refillLocked(b, now)
		if b.tokens >= l.burst {
			delete(l.buckets, key)
		}
	}
}
