package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	pkgch "SignalFusion/pkg/clickhouse"
	applogger "SignalFusion/pkg/logger"
)

// CandleSchema returns the DDL for the candle tables, one per timeframe.
// ReplacingMergeTree keeps the last write per (symbol, bucket).
func CandleSchema(database string) []string {
	stmts := []string{fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database)}
	for _, tf := range []drepo.Timeframe{drepo.TF1m, drepo.TF1h, drepo.TF1d} {
		stmts = append(stmts, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				symbol LowCardinality(String),
				bucket DateTime64(3, 'UTC'),
				open Float64,
				high Float64,
				low Float64,
				close Float64,
				volume Float64,
				updated_at DateTime64(3, 'UTC')
			)
			ENGINE = ReplacingMergeTree(updated_at)
			ORDER BY (symbol, bucket)
		`, tableFor(database, tf)))
	}
	return stmts
}

func tableFor(database string, tf drepo.Timeframe) string {
	return fmt.Sprintf("%s.candles_%s", database, tf)
}

// CHCandleStore implements CandleStore backed by ClickHouse.
type CHCandleStore struct {
	conn     driver.Conn
	database string
	log      *applogger.Logger
}

var _ drepo.CandleStore = (*CHCandleStore)(nil)

func NewCHCandleStore(ch *pkgch.Client, log *applogger.Logger) *CHCandleStore {
	return &CHCandleStore{conn: ch.Conn(), database: ch.Database(), log: log}
}

func (s *CHCandleStore) table(tf drepo.Timeframe) (string, error) {
	if !drepo.IsValidTimeframe(tf) {
		return "", fmt.Errorf("timeframe %q: %w", tf, models.ErrInvalidInput)
	}
	return tableFor(s.database, tf), nil
}

func (s *CHCandleStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf drepo.Timeframe) ([]models.Candle, error) {
	table, err := s.table(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT bucket, symbol, open, high, low, close, volume
		FROM %s FINAL
		WHERE symbol = ? AND bucket >= ? AND bucket <= ?
		ORDER BY bucket ASC
	`, table)
	start := time.Now()
	out, err := s.query(ctx, q, symbol, from, to)
	if err != nil {
		s.log.Error("clickhouse.get_candles failed",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Error(err))
		return nil, err
	}
	s.log.Debug("clickhouse.get_candles ok",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)))
	return out, nil
}

func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf drepo.Timeframe) ([]models.Candle, error) {
	if n <= 0 {
		return nil, nil
	}
	table, err := s.table(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT bucket, symbol, open, high, low, close, volume
		FROM %s FINAL
		WHERE symbol = ?
		ORDER BY bucket DESC
		LIMIT ?
	`, table)
	out, err := s.query(ctx, q, symbol, uint64(n))
	if err != nil {
		s.log.Error("clickhouse.latest_candles failed",
			applogger.String("symbol", symbol),
			applogger.Int("limit", n),
			applogger.Error(err))
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHCandleStore) query(ctx context.Context, q string, args ...interface{}) ([]models.Candle, error) {
	rows, err := s.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Bucket = c.Bucket.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return out, nil
}

// SaveCandles upserts candles in one batch. A later write for the same
// bucket replaces the earlier one on merge.
func (s *CHCandleStore) SaveCandles(ctx context.Context, candles []models.Candle, tf drepo.Timeframe) error {
	if len(candles) == 0 {
		return nil
	}
	table, err := s.table(tf)
	if err != nil {
		return err
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (symbol, bucket, open, high, low, close, volume, updated_at)", table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	now := time.Now().UTC()
	for _, c := range candles {
		if err := batch.Append(c.Symbol, c.Bucket.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume, now); err != nil {
			return fmt.Errorf("append candle: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
