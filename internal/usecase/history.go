package usecase

import (
	"context"
	"fmt"
	"time"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	applogger "SignalFusion/pkg/logger"
	xutil "SignalFusion/pkg/util"
)

const (
	defaultHistoryLimit = 750
	maxHistoryLimit     = 50000
)

// HistoryUseCase reads and imports candle history.
type HistoryUseCase struct {
	store drepo.CandleStore
	tf    drepo.Timeframe
	log   *applogger.Logger
}

func NewHistoryUseCase(store drepo.CandleStore, tf drepo.Timeframe, log *applogger.Logger) *HistoryUseCase {
	if !drepo.IsValidTimeframe(tf) {
		tf = drepo.DefaultTimeframe()
	}
	return &HistoryUseCase{store: store, tf: tf, log: log}
}

type GetHistoryParams struct {
	Symbol    string
	From      time.Time
	To        time.Time
	Timeframe drepo.Timeframe
	Limit     int
}

type HistoryResult struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Count     int             `json:"count"`
	Candles   []models.Candle `json:"candles"`
}

// GetHistory returns candles in [From, To] when a range is given, otherwise
// the latest Limit candles. Range ends snap to bucket starts.
func (uc *HistoryUseCase) GetHistory(ctx context.Context, p GetHistoryParams) (*HistoryResult, error) {
	symbol, err := models.NormalizeSymbol(p.Symbol)
	if err != nil {
		return nil, err
	}
	tf := p.Timeframe
	if tf == "" {
		tf = uc.tf
	}
	if !drepo.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("timeframe %q: %w", tf, models.ErrInvalidInput)
	}
	if p.Limit <= 0 {
		p.Limit = defaultHistoryLimit
	}
	if p.Limit > maxHistoryLimit {
		p.Limit = maxHistoryLimit
	}

	var candles []models.Candle
	if p.From.IsZero() && p.To.IsZero() {
		candles, err = uc.store.GetLatestNCandles(ctx, symbol, p.Limit, tf)
	} else {
		if p.To.IsZero() {
			p.To = time.Now().UTC()
		}
		p.From, p.To = xutil.AlignFromTo(p.From, p.To, string(tf))
		if p.From.After(p.To) {
			return nil, fmt.Errorf("from must be <= to: %w", models.ErrInvalidInput)
		}
		candles, err = uc.store.GetCandles(ctx, symbol, p.From, p.To, tf)
		if len(candles) > p.Limit {
			candles = candles[:p.Limit]
		}
	}
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	return &HistoryResult{Symbol: symbol, Timeframe: string(tf), Count: len(candles), Candles: candles}, nil
}

// Import validates and upserts candles for symbol. Buckets are truncated to
// the timeframe.
func (uc *HistoryUseCase) Import(ctx context.Context, symbol string, tf drepo.Timeframe, candles []models.Candle) (int, error) {
	symbol, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return 0, err
	}
	if tf == "" {
		tf = uc.tf
	}
	if !drepo.IsValidTimeframe(tf) {
		return 0, fmt.Errorf("timeframe %q: %w", tf, models.ErrInvalidInput)
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("no candles: %w", models.ErrInvalidInput)
	}
	out := make([]models.Candle, len(candles))
	for i, c := range candles {
		if err := validateCandle(c); err != nil {
			return 0, fmt.Errorf("candle %d: %w", i, err)
		}
		c.Symbol = symbol
		c.Bucket = c.Bucket.UTC().Truncate(tf.Duration())
		out[i] = c
	}
	if err := uc.store.SaveCandles(ctx, out, tf); err != nil {
		return 0, fmt.Errorf("save candles: %w", err)
	}
	uc.log.Info("history.imported",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("candles", len(out)))
	return len(out), nil
}

func validateCandle(c models.Candle) error {
	switch {
	case c.Bucket.IsZero():
		return fmt.Errorf("missing time: %w", models.ErrInvalidInput)
	case c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0:
		return fmt.Errorf("non-positive price: %w", models.ErrInvalidInput)
	case c.High < c.Low || c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close:
		return fmt.Errorf("high/low do not bound open/close: %w", models.ErrInvalidInput)
	case c.Volume < 0:
		return fmt.Errorf("negative volume: %w", models.ErrInvalidInput)
	}
	return nil
}
