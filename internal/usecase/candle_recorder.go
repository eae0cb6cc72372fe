package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	applogger "SignalFusion/pkg/logger"
)

// CandleRecorder folds streamed trades into candles and flushes them to the
// candle store. Writes are upserts, so the open candle of each symbol is
// re-saved on every flush while it keeps changing.
type CandleRecorder struct {
	store drepo.CandleStore
	tf    drepo.Timeframe
	log   *applogger.Logger

	in         chan models.Trade
	flushEvery time.Duration
	maxBackoff time.Duration

	mu        sync.Mutex
	open      map[string]*building
	pending   map[candleKey]*building
	backoff   time.Duration
	nextTry   time.Time
	started   bool
	stop      context.CancelFunc
	done      chan struct{}
	dropped   atomic.Int64
	processed atomic.Int64
}

type candleKey struct {
	symbol string
	bucket time.Time
}

type building struct {
	c           models.Candle
	first, last time.Time
	seeded      bool
	dirty       bool
}

type RecorderOption func(*CandleRecorder)

// WithRecorderBuffer sets the trade queue size.
func WithRecorderBuffer(n int) RecorderOption {
	return func(r *CandleRecorder) {
		if n > 0 {
			r.in = make(chan models.Trade, n)
		}
	}
}

// WithFlushInterval sets how often candles are written.
func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *CandleRecorder) {
		if d > 0 {
			r.flushEvery = d
		}
	}
}

func NewCandleRecorder(store drepo.CandleStore, tf drepo.Timeframe, log *applogger.Logger, opts ...RecorderOption) *CandleRecorder {
	if !drepo.IsValidTimeframe(tf) {
		tf = drepo.DefaultTimeframe()
	}
	r := &CandleRecorder{
		store:      store,
		tf:         tf,
		log:        log,
		in:         make(chan models.Trade, 4096),
		flushEvery: 5 * time.Second,
		maxBackoff: 2 * time.Minute,
		open:       make(map[string]*building),
		pending:    make(map[candleKey]*building),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record queues a trade without blocking. Invalid trades are ignored and a
// full queue drops the trade.
func (r *CandleRecorder) Record(t models.Trade) {
	if err := validateTrade(t); err != nil {
		return
	}
	select {
	case r.in <- t:
	default:
		if r.dropped.Add(1)%1000 == 1 {
			r.log.Warn("recorder.queue full", applogger.Int64("dropped", r.dropped.Load()))
		}
	}
}

// Dropped returns the number of trades lost to a full queue or arriving
// after their candle was written.
func (r *CandleRecorder) Dropped() int64 { return r.dropped.Load() }

// Processed returns the number of trades folded into candles.
func (r *CandleRecorder) Processed() int64 { return r.processed.Load() }

// Start launches the fold and flush loop.
func (r *CandleRecorder) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	ctx, r.stop = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.loop(ctx)
	r.log.Info("recorder.started",
		applogger.String("tf", string(r.tf)),
		applogger.Duration("flush_every", r.flushEvery))
}

// Stop ends the loop after draining queued trades and a final flush.
func (r *CandleRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	stop, done := r.stop, r.done
	r.mu.Unlock()

	stop()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	r.nextTry = time.Time{}
	r.mu.Unlock()
	return r.Flush(ctx)
}

func (r *CandleRecorder) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case t := <-r.in:
					r.apply(t)
				default:
					return
				}
			}
		case t := <-r.in:
			r.apply(t)
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("recorder.flush failed", applogger.Error(err))
			}
		}
	}
}

func (r *CandleRecorder) apply(t models.Trade) {
	bucket := t.Timestamp.UTC().Truncate(r.tf.Duration())
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.open[t.Symbol]
	switch {
	case !ok:
		r.open[t.Symbol] = newBuilding(t, bucket)
	case bucket.Equal(cur.c.Bucket):
		cur.add(t)
	case bucket.After(cur.c.Bucket):
		r.pending[candleKey{t.Symbol, cur.c.Bucket}] = cur
		r.open[t.Symbol] = newBuilding(t, bucket)
	default:
		// late trade for an older bucket; only unwritten candles accept it
		if p, ok := r.pending[candleKey{t.Symbol, bucket}]; ok {
			p.add(t)
		} else {
			r.dropped.Add(1)
			return
		}
	}
	r.processed.Add(1)
}

func newBuilding(t models.Trade, bucket time.Time) *building {
	return &building{
		c: models.Candle{
			Bucket: bucket,
			Symbol: t.Symbol,
			Open:   t.Price, High: t.Price, Low: t.Price, Close: t.Price,
			Volume: t.Volume,
		},
		first: t.Timestamp,
		last:  t.Timestamp,
		dirty: true,
	}
}

func (b *building) add(t models.Trade) {
	if t.Price > b.c.High {
		b.c.High = t.Price
	}
	if t.Price < b.c.Low {
		b.c.Low = t.Price
	}
	if t.Timestamp.Before(b.first) {
		b.first, b.c.Open = t.Timestamp, t.Price
	}
	if !t.Timestamp.Before(b.last) {
		b.last, b.c.Close = t.Timestamp, t.Price
	}
	b.c.Volume += t.Volume
	b.dirty = true
}

// seed merges a candle already in the store for the same bucket, written by
// an import or an earlier run, into b.
func (b *building) seed(prev models.Candle) {
	b.c.Open = prev.Open
	if prev.High > b.c.High {
		b.c.High = prev.High
	}
	if prev.Low > 0 && prev.Low < b.c.Low {
		b.c.Low = prev.Low
	}
	b.c.Volume += prev.Volume
}

// Flush writes closed candles and changed open candles. After a failed write
// the candles stay queued and later flushes back off exponentially.
func (r *CandleRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Now().Before(r.nextTry) {
		return nil
	}

	var batch []*building
	for _, b := range r.pending {
		batch = append(batch, b)
	}
	for _, b := range r.open {
		if b.dirty {
			batch = append(batch, b)
		}
	}
	if len(batch) == 0 {
		return nil
	}
	sort.Slice(batch, func(i, j int) bool {
		if batch[i].c.Symbol != batch[j].c.Symbol {
			return batch[i].c.Symbol < batch[j].c.Symbol
		}
		return batch[i].c.Bucket.Before(batch[j].c.Bucket)
	})

	candles := make([]models.Candle, 0, len(batch))
	for _, b := range batch {
		if !b.seeded {
			prev, err := r.store.GetCandles(ctx, b.c.Symbol, b.c.Bucket, b.c.Bucket, r.tf)
			if err != nil {
				return r.failed(fmt.Errorf("seed %s: %w", b.c.Symbol, err))
			}
			if len(prev) > 0 {
				b.seed(prev[len(prev)-1])
			}
			b.seeded = true
		}
		candles = append(candles, b.c)
	}

	if err := r.store.SaveCandles(ctx, candles, r.tf); err != nil {
		return r.failed(fmt.Errorf("save %d candles: %w", len(candles), err))
	}
	r.pending = make(map[candleKey]*building)
	for _, b := range r.open {
		b.dirty = false
	}
	r.backoff, r.nextTry = 0, time.Time{}
	r.log.Debug("recorder.flushed", applogger.Int("candles", len(candles)))
	return nil
}

// failed must be called with r.mu held.
func (r *CandleRecorder) failed(err error) error {
	switch {
	case r.backoff == 0:
		r.backoff = r.flushEvery
	case r.backoff < r.maxBackoff:
		r.backoff *= 2
		if r.backoff > r.maxBackoff {
			r.backoff = r.maxBackoff
		}
	}
	r.nextTry = time.Now().Add(r.backoff)
	return err
}

func validateTrade(t models.Trade) error {
	switch {
	case t.Symbol == "":
		return fmt.Errorf("trade: empty symbol: %w", models.ErrInvalidInput)
	case t.Timestamp.IsZero():
		return fmt.Errorf("trade %s: missing timestamp: %w", t.Symbol, models.ErrInvalidInput)
	case t.Price <= 0 || t.Volume < 0:
		return fmt.Errorf("trade %s: price %v volume %v: %w", t.Symbol, t.Price, t.Volume, models.ErrInvalidInput)
	}
	return nil
}
