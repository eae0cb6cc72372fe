package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFusion/internal/domain/models"
	dservice "SignalFusion/internal/domain/service"
	"SignalFusion/internal/service/cache"
	"SignalFusion/internal/service/ratelimit"
	applogger "SignalFusion/pkg/logger"
)

var testNow = time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	id      string
	kinds   []models.QueryKind
	ttl     time.Duration
	fields  map[string]float64
	at      time.Time
	partial bool
	delay   time.Duration
	err     error
}

func (f *fakeAdapter) ID() string { return f.id }
func (f *fakeAdapter) Kinds() []models.QueryKind {
	if len(f.kinds) == 0 {
		return []models.QueryKind{models.KindQuote}
	}
	return f.kinds
}
func (f *fakeAdapter) Budget() models.RateBudget { return models.RateBudget{} }
func (f *fakeAdapter) TTL(models.QueryKind) time.Duration {
	if f.ttl == 0 {
		return time.Minute
	}
	return f.ttl
}

func (f *fakeAdapter) Fetch(ctx context.Context, symbol string, kind models.QueryKind) (models.SourceSnapshot, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.SourceSnapshot{}, ctx.Err()
		}
	}
	if f.err != nil {
		return models.SourceSnapshot{}, models.NewSourceError(f.id, kind, f.err)
	}
	fields := make(map[string]float64, len(f.fields))
	for k, v := range f.fields {
		fields[k] = v
	}
	return models.SourceSnapshot{Source: f.id, Symbol: symbol, Kind: kind, FetchedAt: f.at, Fields: fields, Partial: f.partial}, nil
}

func newTestAggregator(priority []string, adapters ...dservice.SourceAdapter) *Aggregator {
	clock := func() time.Time { return testNow }
	c := cache.NewSnapshotCache(ratelimit.New(0, models.RateBudget{}), applogger.Nop(), cache.WithClock(clock))
	return NewAggregator(c, adapters, priority, applogger.Nop(), WithAggregatorClock(clock))
}

func statusOf(m *models.MergedSnapshot, source string) models.SourceState {
	for _, s := range m.Sources {
		if s.Source == source {
			return s.Status
		}
	}
	return ""
}

func TestGetMergedSnapshot_FreshestNonStaleWins(t *testing.T) {
	price := map[string]float64{models.FieldPrice: 150.0}
	agg := newTestAggregator(nil,
		&fakeAdapter{id: "a", fields: price, at: testNow.Add(-20 * time.Second)},
		&fakeAdapter{id: "b", fields: price, at: testNow.Add(-5 * time.Second)},
		&fakeAdapter{id: "c", fields: price, at: testNow.Add(-30 * time.Second)},
		&fakeAdapter{id: "stale", fields: map[string]float64{models.FieldPrice: 999}, at: testNow.Add(-2 * time.Minute)},
	)

	m, err := agg.GetMergedSnapshot(context.Background(), "aapl", nil)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", m.Symbol)

	fv, ok := m.Fields[models.FieldPrice]
	require.True(t, ok)
	assert.Equal(t, 150.0, fv.Value)
	assert.Equal(t, "b", fv.Source)
	assert.Equal(t, models.KindQuote, fv.Kind)
	assert.Equal(t, testNow.Add(-5*time.Second), fv.FetchedAt)
	assert.Equal(t, models.SourceStale, statusOf(m, "stale"))
	assert.Equal(t, models.SourceOK, statusOf(m, "a"))
}

func TestGetMergedSnapshot_TieBreakByPriority(t *testing.T) {
	at := testNow.Add(-time.Second)
	agg := newTestAggregator([]string{"y", "x"},
		&fakeAdapter{id: "x", fields: map[string]float64{models.FieldPrice: 1}, at: at},
		&fakeAdapter{id: "y", fields: map[string]float64{models.FieldPrice: 2}, at: at},
		&fakeAdapter{id: "a", fields: map[string]float64{models.FieldPrice: 3}, at: at},
	)
	m, err := agg.GetMergedSnapshot(context.Background(), "MSFT", nil)
	require.NoError(t, err)
	assert.Equal(t, "y", m.Fields[models.FieldPrice].Source)
	assert.Equal(t, 2.0, m.Fields[models.FieldPrice].Value)

	// unlisted sources fall back to ID order
	agg = newTestAggregator(nil,
		&fakeAdapter{id: "q", fields: map[string]float64{models.FieldPrice: 1}, at: at},
		&fakeAdapter{id: "p", fields: map[string]float64{models.FieldPrice: 2}, at: at},
	)
	m, err = agg.GetMergedSnapshot(context.Background(), "MSFT", nil)
	require.NoError(t, err)
	assert.Equal(t, "p", m.Fields[models.FieldPrice].Source)
}

func TestGetMergedSnapshot_IndependentOfCompletionOrder(t *testing.T) {
	at := testNow.Add(-time.Second)
	build := func(slowFirst bool) *Aggregator {
		d1, d2 := 30*time.Millisecond, time.Millisecond
		if !slowFirst {
			d1, d2 = d2, d1
		}
		return newTestAggregator([]string{"one", "two"},
			&fakeAdapter{id: "one", delay: d1, at: at, fields: map[string]float64{models.FieldPrice: 10, models.FieldVolume: 100}},
			&fakeAdapter{id: "two", delay: d2, at: at, fields: map[string]float64{models.FieldPrice: 11, models.FieldOpen: 9}},
		)
	}
	m1, err := build(true).GetMergedSnapshot(context.Background(), "IBM", nil)
	require.NoError(t, err)
	m2, err := build(false).GetMergedSnapshot(context.Background(), "IBM", nil)
	require.NoError(t, err)

	assert.Equal(t, m1.Fields, m2.Fields)
	assert.Equal(t, m1.Sources, m2.Sources)
	// statuses are ordered by source, then kind, even when "one" lands last
	require.NotEmpty(t, m1.Sources)
	assert.Equal(t, "one", m1.Sources[0].Source)
	for i := 1; i < len(m1.Sources); i++ {
		prev, cur := m1.Sources[i-1], m1.Sources[i]
		assert.True(t, prev.Source < cur.Source || (prev.Source == cur.Source && prev.Kind <= cur.Kind),
			"%s/%s before %s/%s", prev.Source, prev.Kind, cur.Source, cur.Kind)
	}
	assert.Equal(t, "one", m1.Fields[models.FieldPrice].Source)
	assert.Equal(t, "two", m1.Fields[models.FieldOpen].Source)
}

func TestGetMergedSnapshot_PartialFailureRecorded(t *testing.T) {
	agg := newTestAggregator(nil,
		&fakeAdapter{id: "ok", fields: map[string]float64{models.FieldPrice: 5}, at: testNow, partial: true},
		&fakeAdapter{id: "down", err: errors.New("502 bad gateway")},
	)
	m, err := agg.GetMergedSnapshot(context.Background(), "T", []string{"ok", "down", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, models.SourcePartial, statusOf(m, "ok"))
	assert.Equal(t, models.SourceFailed, statusOf(m, "down"))
	assert.Equal(t, models.SourceFailed, statusOf(m, "ghost"))

	errs := m.Errors()
	assert.Contains(t, errs, "down/quote")
	assert.Contains(t, errs["down/quote"], "502 bad gateway")
}

func TestGetMergedSnapshot_AllFail(t *testing.T) {
	agg := newTestAggregator(nil,
		&fakeAdapter{id: "a", err: errors.New("boom")},
		&fakeAdapter{id: "b", err: errors.New("auth")},
	)
	_, err := agg.GetMergedSnapshot(context.Background(), "NVDA", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDataUnavailable))

	var due *models.DataUnavailableError
	require.True(t, errors.As(err, &due))
	assert.Equal(t, "NVDA", due.Symbol)
	assert.Len(t, due.Reasons, 2)
	assert.Contains(t, due.Reasons["a/quote"], "boom")
}

func TestGetMergedSnapshot_InvalidSymbol(t *testing.T) {
	agg := newTestAggregator(nil, &fakeAdapter{id: "a"})
	_, err := agg.GetMergedSnapshot(context.Background(), "not a symbol!", nil)
	assert.ErrorIs(t, err, models.ErrInvalidSymbol)
}

func TestGetMergedSnapshot_SkipsUnsupportedKinds(t *testing.T) {
	quoteOnly := &fakeAdapter{id: "q", at: testNow, fields: map[string]float64{models.FieldPrice: 1}}
	fund := &fakeAdapter{id: "f", at: testNow, kinds: []models.QueryKind{models.KindFundamentals}, fields: map[string]float64{models.FieldPERatio: 20}}
	agg := newTestAggregator(nil, quoteOnly, fund)

	m, err := agg.GetMergedSnapshot(context.Background(), "KO", nil)
	require.NoError(t, err)
	assert.Len(t, m.Sources, 2)
	assert.Equal(t, models.KindFundamentals, m.Fields[models.FieldPERatio].Kind)

	q, err := agg.GetQuote(context.Background(), "KO", nil)
	require.NoError(t, err)
	_, ok := q.Fields[models.FieldPERatio]
	assert.False(t, ok)
}

func TestPrices(t *testing.T) {
	agg := newTestAggregator(nil,
		&fakeAdapter{id: "a", at: testNow, fields: map[string]float64{models.FieldPrice: 42}},
	)
	prices, failed := agg.Prices(context.Background(), []string{"AAA", "bad symbol"})
	assert.Equal(t, map[string]float64{"AAA": 42}, prices)
	require.Contains(t, failed, "bad symbol")
	assert.ErrorIs(t, failed["bad symbol"], models.ErrInvalidSymbol)
}

func TestGetKinds_OnlyRequestedKinds(t *testing.T) {
	at := testNow.Add(-time.Second)
	agg := newTestAggregator(nil,
		&fakeAdapter{id: "q", at: at, fields: map[string]float64{models.FieldPrice: 10}},
		&fakeAdapter{id: "f", kinds: []models.QueryKind{models.KindFundamentals}, at: at,
			fields: map[string]float64{models.FieldMarketCap: 3e9}},
	)
	m, err := agg.GetKinds(context.Background(), "ibm", []models.QueryKind{models.KindFundamentals})
	require.NoError(t, err)
	require.Len(t, m.Sources, 1)
	assert.Equal(t, "f", m.Sources[0].Source)
	v, ok := m.Value(models.FieldMarketCap)
	assert.True(t, ok)
	assert.Equal(t, 3e9, v)
	_, ok = m.Value(models.FieldPrice)
	assert.False(t, ok)
}
