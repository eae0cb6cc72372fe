package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSourceFailure       = errors.New("source failure")
	ErrUnsupportedKind     = errors.New("unsupported query kind")
	ErrDataUnavailable     = errors.New("data unavailable")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrModelUnavailable    = errors.New("model unavailable")
	ErrNoModelsAvailable   = errors.New("no models available")
	// ErrOptimizationNonConvergence is never returned by the optimizer; non-convergence
	// is reported through Allocation.Fallback. It exists for callers that want to
	// surface a fallback allocation as an error.
	ErrOptimizationNonConvergence = errors.New("optimization did not converge")
	ErrRateLimited                = errors.New("rate limit exceeded")
	ErrInvalidSymbol              = errors.New("invalid symbol")
	ErrInvalidInput               = errors.New("invalid input")
	ErrNotFound                   = errors.New("not found")
	ErrPortfolioExists            = errors.New("portfolio already exists")
	ErrPortfolioNotFound          = errors.New("portfolio not found")
	ErrInsufficientQuantity       = errors.New("insufficient quantity")
)

// SourceError is a total failure of one adapter fetch.
type SourceError struct {
	Source string
	Kind   QueryKind
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s/%s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() []error { return []error{ErrSourceFailure, e.Err} }

// NewSourceError wraps err as a failure of source for kind.
func NewSourceError(source string, kind QueryKind, err error) *SourceError {
	return &SourceError{Source: source, Kind: kind, Err: err}
}

// DataUnavailableError is returned when every source failed for a symbol.
type DataUnavailableError struct {
	Symbol  string
	Reasons map[string]string
}

func (e *DataUnavailableError) Error() string {
	keys := make([]string, 0, len(e.Reasons))
	for k := range e.Reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Reasons[k])
	}
	return fmt.Sprintf("data unavailable for %s (%s)", e.Symbol, strings.Join(parts, "; "))
}

func (e *DataUnavailableError) Unwrap() error { return ErrDataUnavailable }
