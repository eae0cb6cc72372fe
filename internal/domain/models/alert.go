package models

import (
	"fmt"
	"math"
	"time"
)

// AlertType names the merged field an alert watches.
type AlertType string

const (
	AlertPrice     AlertType = "price"
	AlertVolume    AlertType = "volume"
	AlertMarketCap AlertType = "market_cap"
)

// Field returns the merged field and query kind the alert type reads.
func (t AlertType) Field() (string, QueryKind, error) {
	switch t {
	case AlertPrice:
		return FieldPrice, KindQuote, nil
	case AlertVolume:
		return FieldVolume, KindQuote, nil
	case AlertMarketCap:
		return FieldMarketCap, KindFundamentals, nil
	}
	return "", "", fmt.Errorf("alert type %q: %w", t, ErrInvalidInput)
}

type AlertCondition string

const (
	AlertAbove  AlertCondition = "above"
	AlertBelow  AlertCondition = "below"
	AlertEquals AlertCondition = "equals"
)

// equalsTolerance is the relative band within which equals holds.
const equalsTolerance = 0.01

// Met reports whether value satisfies the condition against threshold.
func (c AlertCondition) Met(value, threshold float64) bool {
	switch c {
	case AlertAbove:
		return value > threshold
	case AlertBelow:
		return value < threshold
	case AlertEquals:
		return math.Abs(value-threshold) < math.Abs(threshold)*equalsTolerance
	}
	return false
}

func (c AlertCondition) valid() bool {
	return c == AlertAbove || c == AlertBelow || c == AlertEquals
}

// Alert fires once when its condition holds for the symbol's merged value.
// A triggered alert stays triggered and is not checked again.
type Alert struct {
	ID           string         `json:"id"`
	Symbol       string         `json:"symbol"`
	Type         AlertType      `json:"type"`
	Condition    AlertCondition `json:"condition"`
	Threshold    float64        `json:"threshold"`
	Triggered    bool           `json:"triggered"`
	CurrentValue *float64       `json:"current_value,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CheckedAt    *time.Time     `json:"checked_at,omitempty"`
	TriggeredAt  *time.Time     `json:"triggered_at,omitempty"`
}

// Validate checks type, condition and threshold.
func (a *Alert) Validate() error {
	if _, _, err := a.Type.Field(); err != nil {
		return err
	}
	if !a.Condition.valid() {
		return fmt.Errorf("alert condition %q: %w", a.Condition, ErrInvalidInput)
	}
	if math.IsNaN(a.Threshold) || math.IsInf(a.Threshold, 0) {
		return fmt.Errorf("alert threshold %v: %w", a.Threshold, ErrInvalidInput)
	}
	return nil
}

// AlertCheck is the outcome of one pass over the pending alerts.
type AlertCheck struct {
	Checked   int               `json:"checked"`
	Triggered []Alert           `json:"triggered"`
	Errors    map[string]string `json:"errors,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
