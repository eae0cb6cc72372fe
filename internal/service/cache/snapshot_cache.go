package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	dservice "SignalFusion/internal/domain/service"
	"SignalFusion/internal/service/ratelimit"
	applogger "SignalFusion/pkg/logger"
)

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Fetches int64 `json:"fetches"`
	Shared  int64 `json:"shared"`
	Entries int   `json:"entries"`
}

// SnapshotCache memoizes adapter fetches per (source, kind, symbol) and
// collapses concurrent misses for the same key into one outbound request.
type SnapshotCache struct {
	mu      sync.RWMutex
	entries map[string]models.SourceSnapshot

	group   singleflight.Group
	limiter *ratelimit.Limiter
	l2      BytesCache
	metrics drepo.Metrics
	log     *applogger.Logger

	fetchTimeout time.Duration
	now          func() time.Time

	hits, misses, fetches, shared atomic.Int64
}

type SnapshotCacheOption func(*SnapshotCache)

// WithL2 adds a shared second level consulted on local misses.
func WithL2(l2 BytesCache) SnapshotCacheOption {
	return func(c *SnapshotCache) { c.l2 = l2 }
}

func WithMetrics(m drepo.Metrics) SnapshotCacheOption {
	return func(c *SnapshotCache) { c.metrics = m }
}

func WithFetchTimeout(d time.Duration) SnapshotCacheOption {
	return func(c *SnapshotCache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithClock overrides time.Now; tests only.
func WithClock(now func() time.Time) SnapshotCacheOption {
	return func(c *SnapshotCache) { c.now = now }
}

func NewSnapshotCache(limiter *ratelimit.Limiter, log *applogger.Logger, opts ...SnapshotCacheOption) *SnapshotCache {
	c := &SnapshotCache{
		entries:      make(map[string]models.SourceSnapshot),
		limiter:      limiter,
		log:          log,
		fetchTimeout: 15 * time.Second,
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func snapshotKey(source string, kind models.QueryKind, symbol string) string {
	return source + ":" + string(kind) + ":" + symbol
}

// peek returns the local entry regardless of age.
func (c *SnapshotCache) peek(key string) (models.SourceSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[key]
	return s, ok
}

// lookup returns a fresh local entry, evicting it if it aged out.
func (c *SnapshotCache) lookup(key string, ttl time.Duration) (models.SourceSnapshot, bool) {
	s, ok := c.peek(key)
	if !ok {
		return models.SourceSnapshot{}, false
	}
	if s.Age(c.now()) < ttl {
		return s, true
	}
	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && cur.FetchedAt.Equal(s.FetchedAt) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return models.SourceSnapshot{}, false
}

func (c *SnapshotCache) store(key string, s models.SourceSnapshot) {
	c.mu.Lock()
	if cur, ok := c.entries[key]; !ok || !cur.FetchedAt.After(s.FetchedAt) {
		c.entries[key] = s
	}
	c.mu.Unlock()
}

func (c *SnapshotCache) fromL2(ctx context.Context, key string, ttl time.Duration) (models.SourceSnapshot, bool) {
	if c.l2 == nil {
		return models.SourceSnapshot{}, false
	}
	b, ok, err := c.l2.GetBytes(ctx, key)
	if err != nil {
		c.log.Warn("cache.l2 get failed", applogger.String("key", key), applogger.Error(err))
		return models.SourceSnapshot{}, false
	}
	if !ok {
		return models.SourceSnapshot{}, false
	}
	var s models.SourceSnapshot
	if err := json.Unmarshal(b, &s); err != nil || s.Age(c.now()) >= ttl {
		return models.SourceSnapshot{}, false
	}
	return s, true
}

func (c *SnapshotCache) toL2(ctx context.Context, key string, s models.SourceSnapshot, ttl time.Duration) {
	if c.l2 == nil {
		return
	}
	remaining := ttl - s.Age(c.now())
	if remaining <= 0 {
		return
	}
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.l2.SetBytes(ctx, key, b, remaining); err != nil {
		c.log.Warn("cache.l2 set failed", applogger.String("key", key), applogger.Error(err))
	}
}

func (c *SnapshotCache) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordCache(result)
	}
}

// GetOrFetch returns a snapshot younger than ttl, fetching through the
// adapter on a miss. Concurrent misses for one key share a single fetch. The
// shared fetch is detached from any one caller, so a caller that gives up
// gets ctx.Err() while the fetch still lands in the cache. Failures are
// never cached.
func (c *SnapshotCache) GetOrFetch(ctx context.Context, a dservice.SourceAdapter, symbol string, kind models.QueryKind, ttl time.Duration) (models.SourceSnapshot, error) {
	key := snapshotKey(a.ID(), kind, symbol)
	if s, ok := c.lookup(key, ttl); ok {
		c.hits.Add(1)
		c.record("hit")
		return s, nil
	}
	c.misses.Add(1)
	c.record("miss")

	ch := c.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		// a concurrent flight may have finished between our lookup and now
		if s, ok := c.lookup(key, ttl); ok {
			return s, nil
		}
		if s, ok := c.fromL2(fctx, key, ttl); ok {
			c.store(key, s)
			return s, nil
		}

		if c.limiter != nil {
			permit, err := c.limiter.Acquire(fctx, a.ID())
			if err != nil {
				return nil, models.NewSourceError(a.ID(), kind, err)
			}
			defer permit.Release()
		}

		c.fetches.Add(1)
		start := time.Now()
		s, err := a.Fetch(fctx, symbol, kind)
		elapsed := time.Since(start).Seconds()
		if err != nil {
			c.observe(a.ID(), kind, "error", elapsed)
			var se *models.SourceError
			if !errors.As(err, &se) && !errors.Is(err, models.ErrUnsupportedKind) {
				err = models.NewSourceError(a.ID(), kind, err)
			}
			return nil, err
		}
		if s.Partial {
			c.observe(a.ID(), kind, "partial", elapsed)
		} else {
			c.observe(a.ID(), kind, "ok", elapsed)
		}
		if s.FetchedAt.IsZero() {
			s.FetchedAt = c.now()
		}
		c.store(key, s)
		c.toL2(fctx, key, s, ttl)
		return s, nil
	})

	select {
	case <-ctx.Done():
		return models.SourceSnapshot{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
			c.record("shared")
		}
		if res.Err != nil {
			return models.SourceSnapshot{}, res.Err
		}
		return res.Val.(models.SourceSnapshot), nil
	}
}

func (c *SnapshotCache) observe(source string, kind models.QueryKind, outcome string, seconds float64) {
	if c.metrics != nil {
		c.metrics.RecordFetch(source, kind, outcome, seconds)
	}
}

func (c *SnapshotCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
		Shared:  c.shared.Load(),
		Entries: n,
	}
}

// Clear drops every entry of source, or everything when source is empty.
func (c *SnapshotCache) Clear(ctx context.Context, source string) error {
	c.mu.Lock()
	if source == "" {
		c.entries = make(map[string]models.SourceSnapshot)
	} else {
		for k, s := range c.entries {
			if s.Source == source {
				delete(c.entries, k)
			}
		}
	}
	c.mu.Unlock()

	if c.l2 == nil {
		return nil
	}
	prefix := ""
	if source != "" {
		prefix = source + ":"
	}
	return c.l2.DeletePrefix(ctx, prefix)
}

// Sweep removes entries older than maxAge(kind) and returns how many went.
func (c *SnapshotCache) Sweep(maxAge func(source string, kind models.QueryKind) time.Duration) int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, s := range c.entries {
		if s.Age(now) >= maxAge(s.Source, s.Kind) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// StartJanitor sweeps every interval until ctx ends.
func (c *SnapshotCache) StartJanitor(ctx context.Context, interval time.Duration, maxAge func(source string, kind models.QueryKind) time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := c.Sweep(maxAge); n > 0 {
					c.log.Debug("cache.janitor swept", applogger.Int("evicted", n))
				}
			}
		}
	}()
}
