package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
)

// MemoryCandleStore keeps candles in process, sorted by bucket per symbol
// and timeframe. Saving an existing bucket replaces it.
type MemoryCandleStore struct {
	mu   sync.RWMutex
	data map[drepo.Timeframe]map[string][]models.Candle
}

var _ drepo.CandleStore = (*MemoryCandleStore)(nil)

func NewMemoryCandleStore() *MemoryCandleStore {
	return &MemoryCandleStore{data: make(map[drepo.Timeframe]map[string][]models.Candle)}
}

func (s *MemoryCandleStore) GetCandles(_ context.Context, symbol string, from, to time.Time, tf drepo.Timeframe) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.data[tf][symbol]
	lo := sort.Search(len(series), func(i int) bool { return !series[i].Bucket.Before(from) })
	hi := sort.Search(len(series), func(i int) bool { return series[i].Bucket.After(to) })
	if lo >= hi {
		return nil, nil
	}
	return append([]models.Candle(nil), series[lo:hi]...), nil
}

func (s *MemoryCandleStore) GetLatestNCandles(_ context.Context, symbol string, n int, tf drepo.Timeframe) ([]models.Candle, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.data[tf][symbol]
	if len(series) > n {
		series = series[len(series)-n:]
	}
	return append([]models.Candle(nil), series...), nil
}

func (s *MemoryCandleStore) SaveCandles(_ context.Context, candles []models.Candle, tf drepo.Timeframe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySymbol := s.data[tf]
	if bySymbol == nil {
		bySymbol = make(map[string][]models.Candle)
		s.data[tf] = bySymbol
	}
	for _, c := range candles {
		series := bySymbol[c.Symbol]
		i := sort.Search(len(series), func(i int) bool { return !series[i].Bucket.Before(c.Bucket) })
		if i < len(series) && series[i].Bucket.Equal(c.Bucket) {
			series[i] = c
			continue
		}
		series = append(series, models.Candle{})
		copy(series[i+1:], series[i:])
		series[i] = c
		bySymbol[c.Symbol] = series
	}
	return nil
}
