package repository

import "time"

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF1h Timeframe = "1h"
	TF1d Timeframe = "1d"
)

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TF1m, TF1h, TF1d:
		return true
	default:
		return false
	}
}

// DefaultTimeframe returns the default timeframe. Forecast horizons are in
// days, so history is daily unless asked otherwise.
func DefaultTimeframe() Timeframe { return TF1d }

// NormalizeTimeframe converts raw string to a valid timeframe (or default).
func NormalizeTimeframe(s string) Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf := Timeframe(s)
	if IsValidTimeframe(tf) {
		return tf
	}
	return DefaultTimeframe()
}

// PeriodsPerYear returns the annualization factor for tf.
func PeriodsPerYear(tf Timeframe) float64 {
	switch tf {
	case TF1m:
		return 252 * 390
	case TF1h:
		return 252 * 6.5
	default:
		return 252
	}
}

// Duration returns the bucket width of tf.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF1h:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}
