// Package ratelimit throttles slash command invocations per key.
package ratelimit

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Config configures a Limiter.
type Config struct {
	// PerMinute is the sustained number of calls allowed per key.
	PerMinute float64 `yaml:"per_minute"`
	// Burst is how many calls a fresh key may make back to back.
	Burst int `yaml:"burst"`
	// Disabled turns the limiter into a pass-through.
	Disabled bool `yaml:"disabled"`
}

// DefaultConfig allows five quick changes, then one every ten seconds.
func DefaultConfig() Config {
	return Config{
		PerMinute: 6,
		Burst:     5,
	}
}

// bucket implements token bucket rate limiting. Callers hold Limiter.mu.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter keeps one token bucket per key. Buckets idle long enough to have
// refilled completely are dropped.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
	enabled bool
	now     func() time.Time
	sweep   time.Time
}

// NewLimiter creates a limiter. Non-positive values fall back to
// DefaultConfig.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.PerMinute <= 0 {
		config.PerMinute = def.PerMinute
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    config.PerMinute / 60,
		burst:   float64(config.Burst),
		enabled: !config.Disabled,
		now:     time.Now,
	}
}

// Allow takes a token for key. When none is left it returns false and how
// long until the next one.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l == nil || !l.enabled {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictIdle(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastSeen: now}
		l.buckets[key] = b
	}
	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration(math.Ceil((1 - b.tokens) / l.rate * float64(time.Second)))
	return false, wait
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// evictIdle drops full buckets at most once per refill period.
func (l *Limiter) evictIdle(now time.Time) {
	refill := time.Duration(l.burst / l.rate * float64(time.Second))
	if now.Sub(l.sweep) < refill {
		return
	}
	l.sweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= refill {
			delete(l.buckets, key)
		}
	}
}

// Key joins parts into a limiter key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
