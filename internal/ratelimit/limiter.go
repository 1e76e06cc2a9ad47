// Package ratelimit implements the token-bucket rate limiter the
// gateway applies per user_scope before an inbound message reaches the
// orchestrator.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures a Limiter's buckets.
type Config struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// DefaultConfig returns the standard per-user budget.
func DefaultConfig() Config {
	return Config{RequestsPerMinute: 30, Burst: 10}
}

// bucket is a linear-refill token bucket for one key.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(cfg Config) *bucket {
	return &bucket{
		tokens:     float64(cfg.Burst),
		maxTokens:  float64(cfg.Burst),
		refillRate: cfg.RequestsPerMinute / 60,
		lastRefill: time.Now(),
	}
}

func (b *bucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Limiter holds one bucket per key (user_scope), created lazily.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
}

// New builds a Limiter with cfg's refill rate and burst size.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// Allow reports whether a request for key may proceed, consuming a
// token if so.
func (l *Limiter) Allow(key string) bool {
	return l.bucketFor(key).allow()
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.cfg)
		l.buckets[key] = b
	}
	return b
}
