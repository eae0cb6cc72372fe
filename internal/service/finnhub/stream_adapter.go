package finnhub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	dservice "SignalFusion/internal/domain/service"
	applogger "SignalFusion/pkg/logger"
)

const StreamID = "finnhub_stream"

// StreamAdapter serves quote snapshots from the last streamed trade. It never
// makes an outbound request; a quiet symbol simply ages out.
type StreamAdapter struct {
	stream         drepo.MarketStream
	metrics        drepo.Metrics
	log            *applogger.Logger
	ttl            time.Duration
	reconnectDelay time.Duration

	mu      sync.RWMutex
	last    map[string]models.Trade
	dayOpen map[string]models.Trade
	watched map[string]struct{}
	sink    func(models.Trade)
}

var _ dservice.SourceAdapter = (*StreamAdapter)(nil)

func NewStreamAdapter(stream drepo.MarketStream, metrics drepo.Metrics, ttl, reconnectDelay time.Duration, log *applogger.Logger) *StreamAdapter {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &StreamAdapter{
		stream:         stream,
		metrics:        metrics,
		log:            log,
		ttl:            ttl,
		reconnectDelay: reconnectDelay,
		last:           make(map[string]models.Trade),
		dayOpen:        make(map[string]models.Trade),
		watched:        make(map[string]struct{}),
	}
}

func (a *StreamAdapter) ID() string                         { return StreamID }
func (a *StreamAdapter) Kinds() []models.QueryKind          { return []models.QueryKind{models.KindQuote} }
func (a *StreamAdapter) Budget() models.RateBudget          { return models.RateBudget{} }
func (a *StreamAdapter) TTL(models.QueryKind) time.Duration { return a.ttl }

// Fetch returns the last trade as a partial quote. FetchedAt is the trade
// time so the aggregator's freshness check applies to the market, not to us.
func (a *StreamAdapter) Fetch(ctx context.Context, symbol string, kind models.QueryKind) (models.SourceSnapshot, error) {
	if kind != models.KindQuote {
		return models.SourceSnapshot{}, fmt.Errorf("%s %s: %w", StreamID, kind, models.ErrUnsupportedKind)
	}
	a.mu.RLock()
	t, ok := a.last[symbol]
	open, hasOpen := a.dayOpen[symbol]
	_, watched := a.watched[symbol]
	a.mu.RUnlock()

	if !watched {
		a.watch(ctx, symbol)
	}
	if !ok {
		return models.SourceSnapshot{}, models.NewSourceError(StreamID, kind, errors.New("no trades received"))
	}
	fields := map[string]float64{models.FieldPrice: t.Price}
	if hasOpen && open.Price > 0 {
		fields[models.FieldOpen] = open.Price
		fields[models.FieldChangePct] = t.Price/open.Price - 1
	}
	return models.SourceSnapshot{
		Source:    StreamID,
		Symbol:    symbol,
		Kind:      kind,
		FetchedAt: t.Timestamp,
		Fields:    fields,
		Partial:   true,
	}, nil
}

func (a *StreamAdapter) watch(ctx context.Context, symbols ...string) {
	a.mu.Lock()
	var fresh []string
	for _, s := range symbols {
		if _, ok := a.watched[s]; !ok {
			a.watched[s] = struct{}{}
			fresh = append(fresh, s)
		}
	}
	a.mu.Unlock()
	if len(fresh) == 0 || !a.stream.IsConnected() {
		return
	}
	if err := a.stream.Subscribe(ctx, fresh); err != nil {
		a.log.Warn("finnhub.stream subscribe failed", applogger.Strings("symbols", fresh), applogger.Error(err))
	}
}

// Watch subscribes symbols now and after every reconnect.
func (a *StreamAdapter) Watch(ctx context.Context, symbols []string) { a.watch(ctx, symbols...) }

// SetTradeSink forwards every ingested trade to fn, e.g. a candle recorder.
// Call it before Run.
func (a *StreamAdapter) SetTradeSink(fn func(models.Trade)) {
	a.mu.Lock()
	a.sink = fn
	a.mu.Unlock()
}

// Ingest records one trade. Exposed for replay and tests.
func (a *StreamAdapter) Ingest(t models.Trade) {
	if t.Price <= 0 || t.Symbol == "" {
		return
	}
	a.mu.Lock()
	if cur, ok := a.last[t.Symbol]; !ok || !t.Timestamp.Before(cur.Timestamp) {
		a.last[t.Symbol] = t
	}
	switch o, ok := a.dayOpen[t.Symbol]; {
	case !ok:
		a.dayOpen[t.Symbol] = t
	case sameDay(o.Timestamp, t.Timestamp):
		if t.Timestamp.Before(o.Timestamp) {
			a.dayOpen[t.Symbol] = t
		}
	case t.Timestamp.After(o.Timestamp):
		a.dayOpen[t.Symbol] = t
	}
	sink := a.sink
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.RecordLastPrice(t.Symbol, t.Price)
	}
	if sink != nil {
		sink(t)
	}
}

// Run keeps the stream connected until ctx ends, reconnecting after
// failures and resubscribing every watched symbol.
func (a *StreamAdapter) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := a.session(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("finnhub.stream session ended", applogger.Error(err))
		}
		select {
		case <-ctx.Done():
		case <-time.After(a.reconnectDelay):
		}
	}
	_ = a.stream.Close()
}

func (a *StreamAdapter) session(ctx context.Context) error {
	if err := a.stream.Connect(ctx); err != nil {
		return err
	}
	defer a.stream.Close()

	a.mu.RLock()
	symbols := make([]string, 0, len(a.watched))
	for s := range a.watched {
		symbols = append(symbols, s)
	}
	a.mu.RUnlock()
	if len(symbols) > 0 {
		if err := a.stream.Subscribe(ctx, symbols); err != nil {
			return err
		}
	}

	trades, errs := a.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-trades:
			if !ok {
				// read loop ended; surface its error if any
				if err, ok := <-errs; ok && err != nil {
					return err
				}
				return nil
			}
			a.Ingest(t)
		}
	}
}

func sameDay(a, b time.Time) bool {
	ya, ma, da := a.UTC().Date()
	yb, mb, db := b.UTC().Date()
	return ya == yb && ma == mb && da == db
}
