package models

import "time"

// Candle represents an OHLCV bar used for features, training and risk.
type Candle struct {
	Bucket time.Time `json:"t"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// Closes extracts the close series from candles.
func Closes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// SimpleReturns computes close-to-close returns c_t/c_{t-1}-1, skipping
// non-positive prices.
func SimpleReturns(cs []Candle) []float64 {
	if len(cs) < 2 {
		return nil
	}
	out := make([]float64, 0, len(cs)-1)
	for i := 1; i < len(cs); i++ {
		prev := cs[i-1].Close
		if prev <= 0 || cs[i].Close <= 0 {
			continue
		}
		out = append(out, cs[i].Close/prev-1)
	}
	return out
}

// FeatureVector is a fixed-width numeric encoding of one symbol at one point in time.
type FeatureVector struct {
	Symbol string    `json:"symbol"`
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
	// Degraded lists sub-features filled with their neutral value.
	Degraded []string `json:"degraded,omitempty"`
}

// Len returns the vector width.
func (f FeatureVector) Len() int { return len(f.Values) }

// Supported forecast horizons in days.
const (
	Horizon1d  = 1
	Horizon7d  = 7
	Horizon30d = 30
)

// ValidHorizon reports whether days is a supported forecast horizon.
func ValidHorizon(days int) bool {
	return days == Horizon1d || days == Horizon7d || days == Horizon30d
}

// EnsembleForecast is the blended prediction of all available models for one horizon.
type EnsembleForecast struct {
	Symbol        string             `json:"symbol"`
	HorizonDays   int                `json:"horizon_days"`
	BlendedValue  float64            `json:"blended_value"`
	PerModel      map[string]float64 `json:"per_model"`
	Weights       map[string]float64 `json:"weights"`
	Excluded      []string           `json:"excluded,omitempty"`
	Confidence    float64            `json:"confidence"`
	ProbabilityUp float64            `json:"probability_up"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

// ValidationMetrics is the held-out error of one trained model.
type ValidationMetrics struct {
	MSE float64 `json:"mse"`
	MAE float64 `json:"mae"`
	R2  float64 `json:"r2"`
}

// TrainingReport summarizes one ensemble training run.
type TrainingReport struct {
	HorizonDays    int                          `json:"horizon_days"`
	TrainRows      int                          `json:"train_rows"`
	ValidationRows int                          `json:"validation_rows"`
	PerModel       map[string]ValidationMetrics `json:"per_model"`
	Skipped        map[string]string            `json:"skipped,omitempty"`
	Weights        map[string]float64           `json:"weights"`
}

// Category names a scoring dimension.
type Category string

const (
	CategoryFundamental Category = "fundamental"
	CategoryTechnical   Category = "technical"
	CategoryInsider     Category = "insider"
	CategorySentiment   Category = "sentiment"
)

// Categories lists scoring categories in table order.
func Categories() []Category {
	return []Category{CategoryFundamental, CategoryTechnical, CategoryInsider, CategorySentiment}
}

// Recommendation is the discrete outcome of the composite score.
type Recommendation string

const (
	StrongSell Recommendation = "StrongSell"
	Sell       Recommendation = "Sell"
	Hold       Recommendation = "Hold"
	Buy        Recommendation = "Buy"
	StrongBuy  Recommendation = "StrongBuy"
)

// RiskLevel is a coarse bucket of the per-symbol risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskModerate RiskLevel = "Moderate"
	RiskHigh     RiskLevel = "High"
	RiskVeryHigh RiskLevel = "VeryHigh"
)

// CompositeScore is recomputed on every analysis pass and always replaced, never mutated.
type CompositeScore struct {
	Symbol         string               `json:"symbol"`
	SubScores      map[Category]float64 `json:"sub_scores"`
	Composite      float64              `json:"composite"`
	Recommendation Recommendation       `json:"recommendation"`
	RiskLevel      RiskLevel            `json:"risk_level,omitempty"`
	Reasons        []string             `json:"reasons,omitempty"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

// VaRMethod names how tail quantiles were estimated.
type VaRMethod string

const (
	VaRHistorical VaRMethod = "historical"
	VaRParametric VaRMethod = "parametric"
)

// TailRisk is VaR and ES at one confidence level.
type TailRisk struct {
	Confidence float64 `json:"confidence"`
	VaR        float64 `json:"var"`
	ES         float64 `json:"es"`
}

// RiskReport holds risk metrics over a return series. Values are fractional
// returns; VaR is non-positive and MaxDrawdown non-negative. Sharpe and Sortino
// are nil when their denominator is zero.
type RiskReport struct {
	Observations int        `json:"observations"`
	Method       VaRMethod  `json:"method"`
	VaR95        float64    `json:"var_95"`
	VaR99        float64    `json:"var_99"`
	ES95         float64    `json:"es_95"`
	ES99         float64    `json:"es_99"`
	Tail         []TailRisk `json:"tail"`
	MaxDrawdown  float64    `json:"max_drawdown"`
	Volatility   float64    `json:"volatility"`
	Sharpe       *float64   `json:"sharpe"`
	Sortino      *float64   `json:"sortino"`
}

// Bounds is a per-asset weight interval.
type Bounds struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Allocation is the result of portfolio optimization.
type Allocation struct {
	Weights        map[string]float64 `json:"weights"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	Sharpe         float64            `json:"sharpe"`
	Iterations     int                `json:"iterations"`
	Fallback       bool               `json:"fallback"`
}

// SymbolAnalysis is the full output of one pipeline pass for one symbol.
type SymbolAnalysis struct {
	PassID    string             `json:"pass_id"`
	Symbol    string             `json:"symbol"`
	Snapshot  *MergedSnapshot    `json:"snapshot"`
	Forecasts []EnsembleForecast `json:"forecasts,omitempty"`
	Score     CompositeScore     `json:"score"`
	Risk      *RiskReport        `json:"risk,omitempty"`
	Warnings  []string           `json:"warnings,omitempty"`
}

// BatchAnalysis collects per-symbol outcomes of a batch pass.
type BatchAnalysis struct {
	PassID    string            `json:"pass_id"`
	Timestamp time.Time         `json:"timestamp"`
	Results   []SymbolAnalysis  `json:"results"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Trade is a single print from a live stream.
type Trade struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// TrainResult collects per-horizon training outcomes for one symbol.
type TrainResult struct {
	Symbol  string            `json:"symbol"`
	Candles int               `json:"candles"`
	Reports []TrainingReport  `json:"reports"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// JobStatus is the lifecycle state of an asynchronous batch analysis.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// AnalysisJob tracks a queued batch analysis.
type AnalysisJob struct {
	ID          string         `json:"id"`
	Status      JobStatus      `json:"status"`
	Symbols     []string       `json:"symbols"`
	Attempts    int            `json:"attempts"`
	SubmittedAt time.Time      `json:"submitted_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Result      *BatchAnalysis `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}
