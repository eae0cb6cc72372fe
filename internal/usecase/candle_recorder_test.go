package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	"SignalFusion/internal/repository"
	applogger "SignalFusion/pkg/logger"
)

type flakyStore struct {
	*repository.MemoryCandleStore
	fail  atomic.Bool
	saves atomic.Int32
}

func (s *flakyStore) SaveCandles(ctx context.Context, cs []models.Candle, tf drepo.Timeframe) error {
	s.saves.Add(1)
	if s.fail.Load() {
		return errors.New("store down")
	}
	return s.MemoryCandleStore.SaveCandles(ctx, cs, tf)
}

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func trade(sym string, at time.Duration, price, vol float64) models.Trade {
	return models.Trade{Symbol: sym, Price: price, Volume: vol, Timestamp: day0.Add(at)}
}

func latest(t *testing.T, s drepo.CandleStore, sym string) []models.Candle {
	t.Helper()
	cs, err := s.GetLatestNCandles(context.Background(), sym, 10, drepo.TF1d)
	require.NoError(t, err)
	return cs
}

func TestCandleRecorder_FoldsTradesIntoBuckets(t *testing.T) {
	store := repository.NewMemoryCandleStore()
	r := NewCandleRecorder(store, drepo.TF1d, applogger.Nop())

	r.apply(trade("AAPL", 10*time.Hour, 100, 5))
	r.apply(trade("AAPL", 11*time.Hour, 104, 1))
	r.apply(trade("AAPL", 9*time.Hour, 99, 2)) // out of order, earliest
	r.apply(trade("AAPL", 12*time.Hour, 101, 3))
	require.NoError(t, r.Flush(context.Background()))

	cs := latest(t, store, "AAPL")
	require.Len(t, cs, 1)
	assert.Equal(t, models.Candle{Bucket: day0, Symbol: "AAPL", Open: 99, High: 104, Low: 99, Close: 101, Volume: 11}, cs[0])

	// next day closes the first candle, which still takes late trades until written
	r.apply(trade("AAPL", 34*time.Hour, 110, 1))
	r.apply(trade("AAPL", 20*time.Hour, 98, 1))
	require.NoError(t, r.Flush(context.Background()))

	cs = latest(t, store, "AAPL")
	require.Len(t, cs, 2)
	assert.Equal(t, 98.0, cs[0].Close)
	assert.Equal(t, 98.0, cs[0].Low)
	assert.Equal(t, 12.0, cs[0].Volume)
	assert.Equal(t, 110.0, cs[1].Open)
	assert.Equal(t, day0.AddDate(0, 0, 1), cs[1].Bucket)

	r.apply(trade("AAPL", 21*time.Hour, 97, 1))
	assert.Equal(t, int64(1), r.Dropped())
	assert.Equal(t, int64(6), r.Processed())
}

func TestCandleRecorder_LateTradeIntoUnwrittenCandle(t *testing.T) {
	store := repository.NewMemoryCandleStore()
	r := NewCandleRecorder(store, drepo.TF1d, applogger.Nop())

	r.apply(trade("MSFT", 10*time.Hour, 300, 1))
	r.apply(trade("MSFT", 30*time.Hour, 310, 1))
	r.apply(trade("MSFT", 15*time.Hour, 320, 1))
	require.NoError(t, r.Flush(context.Background()))

	cs := latest(t, store, "MSFT")
	require.Len(t, cs, 2)
	assert.Equal(t, 320.0, cs[0].High)
	assert.Equal(t, 320.0, cs[0].Close)
	assert.Equal(t, 2.0, cs[0].Volume)
}

func TestCandleRecorder_SeedsFromStoredCandle(t *testing.T) {
	store := repository.NewMemoryCandleStore()
	require.NoError(t, store.SaveCandles(context.Background(), []models.Candle{
		{Bucket: day0, Symbol: "AAPL", Open: 95, High: 120, Low: 94, Close: 100, Volume: 50},
	}, drepo.TF1d))
	r := NewCandleRecorder(store, drepo.TF1d, applogger.Nop())

	r.apply(trade("AAPL", 15*time.Hour, 102, 5))
	require.NoError(t, r.Flush(context.Background()))
	r.apply(trade("AAPL", 16*time.Hour, 90, 5))
	require.NoError(t, r.Flush(context.Background()))

	cs := latest(t, store, "AAPL")
	require.Len(t, cs, 1)
	assert.Equal(t, models.Candle{Bucket: day0, Symbol: "AAPL", Open: 95, High: 120, Low: 90, Close: 90, Volume: 60}, cs[0])
}

func TestCandleRecorder_RetriesAfterFailure(t *testing.T) {
	store := &flakyStore{MemoryCandleStore: repository.NewMemoryCandleStore()}
	store.fail.Store(true)
	r := NewCandleRecorder(store, drepo.TF1d, applogger.Nop(), WithFlushInterval(time.Millisecond))

	r.apply(trade("AAPL", time.Hour, 100, 1))
	assert.Error(t, r.Flush(context.Background()))
	assert.Empty(t, latest(t, store, "AAPL"))

	store.fail.Store(false)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.Flush(context.Background()))
	assert.Len(t, latest(t, store, "AAPL"), 1)

	saves := store.saves.Load()
	require.NoError(t, r.Flush(context.Background()))
	assert.Equal(t, saves, store.saves.Load(), "nothing changed, nothing written")
}

func TestCandleRecorder_RecordValidatesAndRuns(t *testing.T) {
	store := repository.NewMemoryCandleStore()
	r := NewCandleRecorder(store, drepo.TF1d, applogger.Nop(), WithFlushInterval(10*time.Millisecond))
	r.Start(context.Background())

	r.Record(models.Trade{Symbol: "AAPL", Price: -1, Timestamp: day0})
	r.Record(models.Trade{Price: 1, Timestamp: day0})
	r.Record(trade("AAPL", time.Hour, 100, 1))
	r.Record(trade("AAPL", 2*time.Hour, 101, 1))

	assert.Eventually(t, func() bool { return len(latest(t, store, "AAPL")) == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, int64(2), r.Processed())
	assert.Equal(t, 101.0, latest(t, store, "AAPL")[0].Close)
}

func TestCandleRecorder_QueueFullDrops(t *testing.T) {
	r := NewCandleRecorder(repository.NewMemoryCandleStore(), drepo.TF1d, applogger.Nop(), WithRecorderBuffer(1))
	r.Record(trade("AAPL", time.Hour, 100, 1))
	r.Record(trade("AAPL", time.Hour, 100, 1))
	assert.Equal(t, int64(1), r.Dropped())
}
