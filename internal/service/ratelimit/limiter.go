package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"SignalFusion/internal/domain/models"
)

// Limiter enforces a per-key token bucket plus an optional global cap on
// in-flight requests. Waiters on the global cap are served FIFO.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	fallback models.RateBudget
	global   *semaphore.Weighted
}

// New builds a limiter. maxConcurrent <= 0 disables the global cap; keys that
// were never registered get the fallback budget on first use.
func New(maxConcurrent int, fallback models.RateBudget) *Limiter {
	l := &Limiter{buckets: make(map[string]*rate.Limiter), fallback: fallback}
	if maxConcurrent > 0 {
		l.global = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return l
}

func newBucket(b models.RateBudget) *rate.Limiter {
	if b.RequestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := b.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(b.RequestsPerMinute)), burst)
}

// Register sets (or replaces) the budget for key.
func (l *Limiter) Register(key string, b models.RateBudget) {
	l.mu.Lock()
	l.buckets[key] = newBucket(b)
	l.mu.Unlock()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.fallback)
		l.buckets[key] = b
	}
	return b
}

// Permit is a granted slot; Release must be called once the request finishes.
type Permit struct {
	once    sync.Once
	release func()
}

// Release returns the global slot. Extra calls are no-ops.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

func (l *Limiter) permit() *Permit {
	if l.global == nil {
		return &Permit{}
	}
	return &Permit{release: func() { l.global.Release(1) }}
}

// Acquire blocks until key's bucket has a token and a global slot is free.
// Cancellation returns ctx's error wrapped with ErrRateLimited.
func (l *Limiter) Acquire(ctx context.Context, key string) (*Permit, error) {
	if err := l.bucket(key).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrRateLimited, key, err)
	}
	if l.global != nil {
		if err := l.global.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", models.ErrRateLimited, key, err)
		}
	}
	return l.permit(), nil
}

// TryAcquire is the non-blocking variant.
func (l *Limiter) TryAcquire(key string) (*Permit, bool) {
	if l.global != nil && !l.global.TryAcquire(1) {
		return nil, false
	}
	if !l.bucket(key).Allow() {
		if l.global != nil {
			l.global.Release(1)
		}
		return nil, false
	}
	return l.permit(), true
}

// Allow consumes a token for key without touching the global cap. It backs
// per-client API throttling.
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}
