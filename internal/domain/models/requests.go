package models

// Requests for the HTTP API. Defined in domain for consistency and reuse.

type SnapshotRequest struct {
	Symbol  string `param:"symbol" validate:"required"`
	Sources string `query:"sources"`
}

type AnalysisRequest struct {
	Symbol string `param:"symbol" validate:"required"`
}

type BatchAnalysisRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=100,dive,required"`
}

type RiskRequest struct {
	Returns          []float64 `json:"returns" validate:"required,min=2"`
	ConfidenceLevels []float64 `json:"confidence_levels" validate:"omitempty,dive,gt=0,lt=1"`
}

type OptimizeRequest struct {
	Symbols         []string    `json:"symbols" validate:"required,min=1"`
	ExpectedReturns []float64   `json:"expected_returns" validate:"required,min=1"`
	Covariance      [][]float64 `json:"covariance" validate:"required,min=1"`
	Lower           []float64   `json:"lower"`
	Upper           []float64   `json:"upper"`
}

type TrainRequest struct {
	Symbol string `param:"symbol" validate:"required"`
	N      int    `query:"n" json:"n" default:"750" validate:"gte=50,lte=10000"`
}

type CreatePortfolioRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type PortfolioRequest struct {
	Name string `param:"name" validate:"required"`
}

type AddPositionRequest struct {
	Name     string  `param:"name" validate:"required"`
	Symbol   string  `json:"symbol" validate:"required"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
	Price    float64 `json:"price" validate:"gt=0"`
}

type RemovePositionRequest struct {
	Name     string  `param:"name" validate:"required"`
	Symbol   string  `param:"symbol" validate:"required"`
	Quantity float64 `query:"quantity" validate:"gte=0"`
}

type ClearCacheRequest struct {
	Source string `query:"source"`
}

type SizePositionRequest struct {
	Name   string `param:"name" validate:"required"`
	Symbol string `param:"symbol" validate:"required"`
}

type HistoryRequest struct {
	Symbol    string `param:"symbol" validate:"required"`
	N         int    `query:"n" validate:"gte=0,lte=50000"`
	From      string `query:"from"`
	To        string `query:"to"`
	Timeframe string `query:"tf" validate:"omitempty,oneof=1m 1h 1d"`
}

type ImportHistoryRequest struct {
	Symbol    string   `param:"symbol" validate:"required"`
	Timeframe string   `json:"timeframe" validate:"omitempty,oneof=1m 1h 1d"`
	Candles   []Candle `json:"candles" validate:"required,min=1,max=50000"`
}

type JobRequest struct {
	ID string `param:"id" validate:"required,uuid"`
}

type CreateAlertRequest struct {
	Symbol    string  `json:"symbol" validate:"required"`
	Type      string  `json:"type" validate:"required,oneof=price volume market_cap"`
	Condition string  `json:"condition" validate:"required,oneof=above below equals"`
	Threshold float64 `json:"threshold" validate:"gt=0"`
}

type ListAlertsRequest struct {
	Symbol    string `query:"symbol"`
	Triggered string `query:"triggered" validate:"omitempty,oneof=true false"`
}
