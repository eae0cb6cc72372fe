package scoring

import (
	"fmt"
	"math"
	"time"

	"SignalFusion/internal/domain/models"
)

// SubScores holds per-category scores. A missing category is left out of the
// composite and the remaining weights are renormalized.
type SubScores map[models.Category]float64

// Thresholds are the inclusive lower bounds of each recommendation band.
type Thresholds struct {
	StrongBuy float64
	Buy       float64
	Hold      float64
	Sell      float64
}

// DefaultWeights is the category weight table.
func DefaultWeights() map[models.Category]float64 {
	return map[models.Category]float64{
		models.CategoryFundamental: 0.4,
		models.CategoryTechnical:   0.3,
		models.CategoryInsider:     0.2,
		models.CategorySentiment:   0.1,
	}
}

func DefaultThresholds() Thresholds {
	return Thresholds{StrongBuy: 80, Buy: 60, Hold: 40, Sell: 20}
}

// Engine combines sub-scores into a composite score and recommendation.
type Engine struct {
	weights map[models.Category]float64
	th      Thresholds
	now     func() time.Time
}

// NewEngine validates that weights cover known categories and sum to 1, and
// that thresholds are strictly descending.
func NewEngine(weights map[models.Category]float64, th Thresholds) (*Engine, error) {
	var sum float64
	for c, w := range weights {
		if !knownCategory(c) {
			return nil, fmt.Errorf("unknown score category %q: %w", c, models.ErrInvalidInput)
		}
		if w < 0 {
			return nil, fmt.Errorf("negative weight for %s: %w", c, models.ErrInvalidInput)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return nil, fmt.Errorf("score weights sum to %.4f: %w", sum, models.ErrInvalidInput)
	}
	if !(th.StrongBuy > th.Buy && th.Buy > th.Hold && th.Hold > th.Sell) {
		return nil, fmt.Errorf("thresholds %+v not descending: %w", th, models.ErrInvalidInput)
	}
	w := make(map[models.Category]float64, len(weights))
	for c, v := range weights {
		w[c] = v
	}
	return &Engine{weights: w, th: th, now: time.Now}, nil
}

func knownCategory(c models.Category) bool {
	for _, k := range models.Categories() {
		if k == c {
			return true
		}
	}
	return false
}

// Score clamps each sub-score to [0,100] and returns their weighted mean.
// With no sub-scores the composite is 50.
func (e *Engine) Score(symbol string, sub SubScores) models.CompositeScore {
	out := models.CompositeScore{
		Symbol:      symbol,
		SubScores:   make(map[models.Category]float64, len(sub)),
		GeneratedAt: e.now(),
	}
	var total, wsum float64
	for _, c := range models.Categories() {
		v, ok := sub[c]
		if !ok || math.IsNaN(v) {
			continue
		}
		v = clamp100(v)
		out.SubScores[c] = v
		w := e.weights[c]
		total += w * v
		wsum += w
	}
	out.Composite = 50
	if wsum > 0 {
		out.Composite = clamp100(total / wsum)
	}
	out.Recommendation = e.Recommend(out.Composite)
	out.Reasons = reasons(out.SubScores)
	return out
}

// Recommend maps a composite to its band; a value on a threshold belongs to
// the higher band.
func (e *Engine) Recommend(composite float64) models.Recommendation {
	switch {
	case composite >= e.th.StrongBuy:
		return models.StrongBuy
	case composite >= e.th.Buy:
		return models.Buy
	case composite >= e.th.Hold:
		return models.Hold
	case composite >= e.th.Sell:
		return models.Sell
	default:
		return models.StrongSell
	}
}

// Evaluate rates a merged snapshot and its candle history, then scores it.
func (e *Engine) Evaluate(symbol string, snap *models.MergedSnapshot, candles []models.Candle) models.CompositeScore {
	sub := SubScores{}
	if v, ok := FundamentalScore(snap); ok {
		sub[models.CategoryFundamental] = v
	}
	if v, ok := TechnicalScore(candles); ok {
		sub[models.CategoryTechnical] = v
	}
	if v, ok := InsiderScore(snap); ok {
		sub[models.CategoryInsider] = v
	}
	if v, ok := SentimentScore(snap); ok {
		sub[models.CategorySentiment] = v
	}
	out := e.Score(symbol, sub)
	_, out.RiskLevel, _ = AssessRisk(RiskInputsFrom(snap, candles))
	return out
}

func reasons(sub map[models.Category]float64) []string {
	var out []string
	for _, c := range models.Categories() {
		v, ok := sub[c]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("%s data unavailable", c))
		case v >= 65:
			out = append(out, fmt.Sprintf("strong %s score (%.0f)", c, v))
		case v <= 35:
			out = append(out, fmt.Sprintf("weak %s score (%.0f)", c, v))
		}
	}
	return out
}

func clamp100(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
