package scoring

import (
	"SignalFusion/internal/domain/models"
	"SignalFusion/internal/services/features"
)

const base = 50.0

// present returns a non-zero snapshot value; zero counts as absent.
func present(snap *models.MergedSnapshot, name string) (float64, bool) {
	v, ok := snap.Value(name)
	return v, ok && v != 0
}

// FundamentalScore rates valuation, profitability, leverage and growth.
// ok is false when the snapshot carries no fundamentals.
func FundamentalScore(snap *models.MergedSnapshot) (float64, bool) {
	score, seen := base, false

	if pe, ok := present(snap, models.FieldPERatio); ok {
		seen = true
		switch {
		case pe > 0 && pe < 15:
			score += 15
		case pe >= 15 && pe <= 25:
			score += 10
		case pe > 25 && pe <= 35:
			score += 5
		case pe > 40:
			score -= 10
		}
	}
	if peg, ok := present(snap, models.FieldPEGRatio); ok {
		seen = true
		switch {
		case peg < 1:
			score += 15
		case peg < 1.5:
			score += 10
		case peg > 2:
			score -= 10
		}
	}
	if roe, ok := present(snap, models.FieldROE); ok {
		seen = true
		switch {
		case roe > 0.20:
			score += 15
		case roe > 0.15:
			score += 10
		case roe > 0.10:
			score += 5
		case roe < 0:
			score -= 15
		}
	}
	if de, ok := present(snap, models.FieldDebtToEquity); ok {
		seen = true
		switch {
		case de < 0.3:
			score += 10
		case de < 0.6:
			score += 5
		case de > 2:
			score -= 15
		}
	}
	if g, ok := present(snap, models.FieldRevenueGrowth); ok {
		seen = true
		switch {
		case g > 0.20:
			score += 10
		case g > 0.10:
			score += 5
		case g < 0:
			score -= 10
		}
	}
	if m, ok := present(snap, models.FieldNetMargin); ok {
		seen = true
		switch {
		case m > 0.20:
			score += 10
		case m > 0.10:
			score += 5
		case m < 0:
			score -= 15
		}
	}
	if fcf, ok := present(snap, models.FieldFreeCashFlow); ok {
		seen = true
		if fcf > 0 {
			score += 5
		} else {
			score -= 10
		}
	}
	return clamp100(score), seen
}

// TechnicalScore rates RSI(14), MACD(12,26,9) against its signal and the
// SMA20/SMA50 cross.
func TechnicalScore(candles []models.Candle) (float64, bool) {
	closes := models.Closes(candles)
	score, seen := base, false

	if rsi, ok := features.RSI(closes, 14); ok {
		seen = true
		switch {
		case rsi < 30:
			score += 15
		case rsi <= 70:
			score += 10
		default:
			score -= 10
		}
	}
	if m, ok := features.MACD(closes, 12, 26, 9); ok {
		seen = true
		if m.Line > m.Signal {
			score += 10
			if m.Line > 0 {
				score += 5
			}
		} else {
			score -= 10
		}
	}
	sma20, ok20 := features.SMA(closes, 20)
	sma50, ok50 := features.SMA(closes, 50)
	if ok20 && ok50 {
		seen = true
		if sma20 > sma50 {
			score += 10
		} else {
			score -= 10
		}
	}
	return clamp100(score), seen
}

// InsiderScore rates recent insider activity: net direction, size relative to
// market cap and executive participation.
func InsiderScore(snap *models.MergedSnapshot) (float64, bool) {
	buy, okB := snap.Value(models.FieldInsiderBuyValue)
	sell, okS := snap.Value(models.FieldInsiderSellValue)
	if !okB && !okS {
		return 0, false
	}
	score := base
	switch {
	case buy > sell:
		score += 20
	case sell > buy:
		score -= 10
	}
	if mc, ok := present(snap, models.FieldMarketCap); ok && mc > 0 {
		sig := (buy + sell) / mc
		switch {
		case sig > 0.001:
			score += 15
		case sig > 0.0001:
			score += 10
		}
	}
	if execs, ok := snap.Value(models.FieldInsiderExecBuys); ok && execs > 0 {
		score += 10
	}
	return clamp100(score), true
}

// SentimentScore maps social, analyst and news sentiment in [-1,1] onto the
// base score with weights 25, 15 and 10.
func SentimentScore(snap *models.MergedSnapshot) (float64, bool) {
	score, seen := base, false
	for _, f := range []struct {
		name   string
		weight float64
	}{
		{models.FieldSocialSentiment, 25},
		{models.FieldAnalystSentiment, 15},
		{models.FieldNewsSentiment, 10},
	} {
		if v, ok := snap.Value(f.name); ok {
			seen = true
			score += clampUnit(v) * f.weight
		}
	}
	return clamp100(score), seen
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
