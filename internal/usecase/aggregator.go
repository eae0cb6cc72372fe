package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalFusion/internal/domain/models"
	dservice "SignalFusion/internal/domain/service"
	"SignalFusion/internal/service/cache"
	applogger "SignalFusion/pkg/logger"
)

// Aggregator fans out cached fetches over the registered source adapters and
// merges the results field by field.
type Aggregator struct {
	cache    *cache.SnapshotCache
	adapters map[string]dservice.SourceAdapter
	order    []string
	rank     map[string]int
	log      *applogger.Logger
	now      func() time.Time
}

type AggregatorOption func(*Aggregator)

// WithAggregatorClock overrides time.Now for staleness checks.
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator registers adapters. priority breaks FetchedAt ties; sources
// missing from it rank after the listed ones, ordered by ID.
func NewAggregator(c *cache.SnapshotCache, adapters []dservice.SourceAdapter, priority []string, log *applogger.Logger, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		cache:    c,
		adapters: make(map[string]dservice.SourceAdapter, len(adapters)),
		rank:     make(map[string]int, len(priority)),
		log:      log,
		now:      time.Now,
	}
	for _, ad := range adapters {
		if _, dup := a.adapters[ad.ID()]; dup {
			continue
		}
		a.adapters[ad.ID()] = ad
		a.order = append(a.order, ad.ID())
	}
	sort.Strings(a.order)
	for i, id := range priority {
		if _, ok := a.rank[id]; !ok {
			a.rank[id] = i
		}
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Sources returns the registered adapter IDs.
func (a *Aggregator) Sources() []string { return append([]string(nil), a.order...) }

// Adapter returns the registered adapter for id.
func (a *Aggregator) Adapter(id string) (dservice.SourceAdapter, bool) {
	ad, ok := a.adapters[id]
	return ad, ok
}

// TTL returns the freshness window for (source, kind); zero for unknown sources.
func (a *Aggregator) TTL(source string, kind models.QueryKind) time.Duration {
	if ad, ok := a.adapters[source]; ok {
		return ad.TTL(kind)
	}
	return 0
}

// GetMergedSnapshot fetches every supported kind from sources (all registered
// adapters when empty) and merges the results.
func (a *Aggregator) GetMergedSnapshot(ctx context.Context, symbol string, sources []string) (*models.MergedSnapshot, error) {
	return a.merge(ctx, symbol, sources, models.AllKinds())
}

// GetQuote merges only the quote kind.
func (a *Aggregator) GetQuote(ctx context.Context, symbol string, sources []string) (*models.MergedSnapshot, error) {
	return a.merge(ctx, symbol, sources, []models.QueryKind{models.KindQuote})
}

// GetKinds merges the given kinds across every registered source.
func (a *Aggregator) GetKinds(ctx context.Context, symbol string, kinds []models.QueryKind) (*models.MergedSnapshot, error) {
	if len(kinds) == 0 {
		kinds = models.AllKinds()
	}
	return a.merge(ctx, symbol, nil, kinds)
}

// Prices resolves the merged quote price of each symbol. Symbols without a
// price are reported in the returned error map and left out of the price map.
func (a *Aggregator) Prices(ctx context.Context, symbols []string) (map[string]float64, map[string]error) {
	type res struct {
		symbol string
		price  float64
		err    error
	}
	ch := make(chan res, len(symbols))
	var wg sync.WaitGroup
	for _, s := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			m, err := a.GetQuote(ctx, sym, nil)
			if err != nil {
				ch <- res{symbol: sym, err: err}
				return
			}
			p, ok := m.Value(models.FieldPrice)
			if !ok || p <= 0 {
				ch <- res{symbol: sym, err: fmt.Errorf("%s: %w", sym, models.ErrDataUnavailable)}
				return
			}
			ch <- res{symbol: sym, price: p}
		}(s)
	}
	go func() { wg.Wait(); close(ch) }()

	prices := make(map[string]float64, len(symbols))
	var failed map[string]error
	for r := range ch {
		if r.err != nil {
			if failed == nil {
				failed = map[string]error{}
			}
			failed[r.symbol] = r.err
			continue
		}
		prices[r.symbol] = r.price
	}
	return prices, failed
}

type fetchResult struct {
	source string
	kind   models.QueryKind
	snap   models.SourceSnapshot
	ttl    time.Duration
	err    error
}

func (a *Aggregator) merge(ctx context.Context, symbol string, sources []string, kinds []models.QueryKind) (*models.MergedSnapshot, error) {
	sym, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", symbol, err)
	}
	if len(sources) == 0 {
		sources = a.order
	}
	start := a.now()

	var (
		results []fetchResult
		wg      sync.WaitGroup
	)
	ch := make(chan fetchResult, len(sources)*len(kinds))
	seen := make(map[string]bool, len(sources))
	for _, id := range sources {
		if seen[id] {
			continue
		}
		seen[id] = true
		ad, ok := a.adapters[id]
		if !ok {
			results = append(results, fetchResult{source: id, err: fmt.Errorf("unknown source %q", id)})
			continue
		}
		for _, kind := range kinds {
			if !supports(ad, kind) {
				continue
			}
			wg.Add(1)
			go func(ad dservice.SourceAdapter, kind models.QueryKind) {
				defer wg.Done()
				ttl := ad.TTL(kind)
				snap, err := a.cache.GetOrFetch(ctx, ad, sym, kind, ttl)
				ch <- fetchResult{source: ad.ID(), kind: kind, snap: snap, ttl: ttl, err: err}
			}(ad, kind)
		}
	}
	go func() { wg.Wait(); close(ch) }()
	for r := range ch {
		results = append(results, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := a.combine(sym, results)
	if out == nil {
		reasons := make(map[string]string, len(results))
		for _, r := range results {
			reasons[statusKey(r.source, r.kind)] = r.err.Error()
		}
		a.log.Warn("aggregator.all sources failed", applogger.String("symbol", sym), applogger.Int("attempts", len(results)))
		return nil, &models.DataUnavailableError{Symbol: sym, Reasons: reasons}
	}
	a.log.Debug("aggregator.merged",
		applogger.String("symbol", sym),
		applogger.Int("fields", len(out.Fields)),
		applogger.Int("sources", len(out.Sources)),
		applogger.Duration("took", a.now().Sub(start)))
	return out, nil
}

// combine applies the merge rule. It returns nil when every result failed.
// Results are sorted first so the outcome does not depend on completion order.
func (a *Aggregator) combine(symbol string, results []fetchResult) *models.MergedSnapshot {
	sort.Slice(results, func(i, j int) bool {
		if results[i].source != results[j].source {
			return results[i].source < results[j].source
		}
		return results[i].kind < results[j].kind
	})

	now := a.now()
	out := &models.MergedSnapshot{
		Symbol:  symbol,
		AsOf:    now,
		Fields:  map[string]models.FieldValue{},
		Sources: make([]models.SourceStatus, 0, len(results)),
	}
	succeeded := 0
	for _, r := range results {
		st := models.SourceStatus{Source: r.source, Kind: r.kind}
		switch {
		case r.err != nil:
			st.Status = models.SourceFailed
			st.Error = r.err.Error()
			if errors.Is(r.err, context.DeadlineExceeded) {
				st.Error = "timeout: " + st.Error
			}
		case r.ttl > 0 && r.snap.Age(now) >= r.ttl:
			succeeded++
			st.Status = models.SourceStale
		default:
			succeeded++
			st.Status = models.SourceOK
			if r.snap.Partial {
				st.Status = models.SourcePartial
			}
			for name, v := range r.snap.Fields {
				cand := models.FieldValue{Value: v, Source: r.source, Kind: r.kind, FetchedAt: r.snap.FetchedAt}
				if cur, ok := out.Fields[name]; !ok || a.prefer(cand, cur) {
					out.Fields[name] = cand
				}
			}
		}
		out.Sources = append(out.Sources, st)
	}
	if succeeded == 0 {
		return nil
	}
	return out
}

// prefer reports whether cand should replace cur: newer FetchedAt wins, then
// configured priority, then source ID.
func (a *Aggregator) prefer(cand, cur models.FieldValue) bool {
	if !cand.FetchedAt.Equal(cur.FetchedAt) {
		return cand.FetchedAt.After(cur.FetchedAt)
	}
	ri, rj := a.rankOf(cand.Source), a.rankOf(cur.Source)
	if ri != rj {
		return ri < rj
	}
	if cand.Source != cur.Source {
		return cand.Source < cur.Source
	}
	return cand.Kind < cur.Kind
}

func (a *Aggregator) rankOf(source string) int {
	if r, ok := a.rank[source]; ok {
		return r
	}
	return len(a.rank)
}

func supports(ad dservice.SourceAdapter, kind models.QueryKind) bool {
	for _, k := range ad.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func statusKey(source string, kind models.QueryKind) string {
	if kind == "" {
		return source
	}
	return source + "/" + string(kind)
}
