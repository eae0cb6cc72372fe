package scoring

import (
	"math"

	"SignalFusion/internal/domain/models"
	"SignalFusion/internal/services/features"
)

// RiskInputs are the observations behind the 1..10 per-symbol risk score.
// Zero values mean unknown.
type RiskInputs struct {
	Price        float64
	ATR          float64
	RSI          float64
	SMA50        float64
	PERatio      float64
	DebtToEquity float64
	NetMargin    float64
	ROE          float64
	MarketCap    float64
	Volume       float64
	Sentiment    float64
	HasSentiment bool
	InsiderSale  bool
}

// RiskInputsFrom extracts risk inputs from a snapshot and candle history.
func RiskInputsFrom(snap *models.MergedSnapshot, candles []models.Candle) RiskInputs {
	var in RiskInputs
	closes := models.Closes(candles)
	if p, ok := snap.Value(models.FieldPrice); ok && p > 0 {
		in.Price = p
	} else if len(closes) > 0 {
		in.Price = closes[len(closes)-1]
	}
	if v, ok := snap.Value(models.FieldVolume); ok {
		in.Volume = v
	} else if len(candles) > 0 {
		in.Volume = candles[len(candles)-1].Volume
	}
	in.ATR, _ = features.ATR(candles, 14)
	in.RSI, _ = features.RSI(closes, 14)
	in.SMA50, _ = features.SMA(closes, 50)
	in.PERatio, _ = snap.Value(models.FieldPERatio)
	in.DebtToEquity, _ = snap.Value(models.FieldDebtToEquity)
	in.NetMargin, _ = snap.Value(models.FieldNetMargin)
	in.ROE, _ = snap.Value(models.FieldROE)
	in.MarketCap, _ = snap.Value(models.FieldMarketCap)
	if v, ok := snap.Value(models.FieldSocialSentiment); ok {
		in.Sentiment, in.HasSentiment = v, true
	} else if v, ok := snap.Value(models.FieldNewsSentiment); ok {
		in.Sentiment, in.HasSentiment = v, true
	}
	buy, _ := snap.Value(models.FieldInsiderBuyValue)
	sell, _ := snap.Value(models.FieldInsiderSellValue)
	in.InsiderSale = sell > buy
	return in
}

// AssessRisk returns the risk score in [1,10], its level and the factors that
// raised it.
func AssessRisk(in RiskInputs) (float64, models.RiskLevel, []string) {
	score := 5.0
	var factors []string
	add := func(v float64, why string) {
		score += v
		factors = append(factors, why)
	}

	if in.ATR > 0 && in.Price > 0 {
		switch r := in.ATR / in.Price; {
		case r > 0.05:
			add(1.5, "high volatility")
		case r > 0.03:
			add(0.5, "moderate volatility")
		}
	}
	switch {
	case in.PERatio > 50:
		add(1, "very high P/E")
	case in.PERatio > 30:
		add(0.5, "high P/E")
	}
	switch {
	case in.DebtToEquity > 3:
		add(1.5, "very high debt to equity")
	case in.DebtToEquity > 1.5:
		add(0.5, "high debt")
	}
	switch {
	case in.NetMargin < 0:
		add(2, "negative margins")
	case in.ROE < 0:
		add(1.5, "negative return on equity")
	}
	if in.MarketCap > 0 {
		switch {
		case in.MarketCap < 300e6:
			add(2, "micro cap")
		case in.MarketCap < 2e9:
			add(1, "small cap")
		}
	}
	switch {
	case in.RSI > 80:
		add(1, "extremely overbought")
	case in.RSI > 70:
		add(0.5, "overbought")
	}
	if in.SMA50 > 0 && in.Price > 0 && in.Price < in.SMA50 {
		add(0.5, "price below 50-day average")
	}
	if in.InsiderSale {
		add(1, "insider selling")
	}
	if in.HasSentiment {
		switch {
		case in.Sentiment < -0.5:
			add(1, "very negative sentiment")
		case in.Sentiment < -0.2:
			add(0.5, "negative sentiment")
		}
	}
	if in.Volume > 0 && in.MarketCap > 0 && in.Price > 0 && in.Volume*in.Price/in.MarketCap < 0.001 {
		add(1, "low liquidity")
	}

	return math.Max(1, math.Min(10, score)), LevelFor(score), factors
}

// LevelFor buckets a risk score.
func LevelFor(score float64) models.RiskLevel {
	switch {
	case score <= 3:
		return models.RiskLow
	case score <= 4:
		return models.RiskModerate
	case score <= 6:
		return models.RiskHigh
	default:
		return models.RiskVeryHigh
	}
}
