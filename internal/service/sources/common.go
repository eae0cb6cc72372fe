// Package sources holds REST adapters for upstream market data vendors.
package sources

import (
	"context"
	"errors"
	"math"
	"time"

	"SignalFusion/internal/domain/models"
	xhttp "SignalFusion/pkg/http"
)

// Config is what every REST adapter is built from.
type Config struct {
	APIKey  string
	BaseURL string
	Budget  models.RateBudget
	// TTL overrides per kind; kinds left out use the adapter default.
	TTL     map[models.QueryKind]time.Duration
	Timeout time.Duration
	Retries int
	// Client overrides the HTTP client; tests point it at httptest servers.
	Client *xhttp.Client
}

func (c Config) service(defaultURL string) *xhttp.ServiceBase {
	base := c.BaseURL
	if base == "" {
		base = defaultURL
	}
	client := c.Client
	if client == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = xhttp.NewClient(xhttp.WithTimeout(timeout))
	}
	attempts := c.Retries + 1
	return xhttp.NewServiceBase(base, client, xhttp.WithRetry(attempts, 200*time.Millisecond))
}

func (c Config) budget(def models.RateBudget) models.RateBudget {
	if c.Budget.RequestsPerMinute > 0 {
		b := c.Budget
		if b.Burst <= 0 {
			b.Burst = 1
		}
		return b
	}
	return def
}

func (c Config) ttl(kind models.QueryKind, defaults map[models.QueryKind]time.Duration) time.Duration {
	if d, ok := c.TTL[kind]; ok && d > 0 {
		return d
	}
	if d, ok := defaults[kind]; ok {
		return d
	}
	return time.Minute
}

// DefaultTTLs is the freshness window per kind when nothing is configured.
var DefaultTTLs = map[models.QueryKind]time.Duration{
	models.KindQuote:        time.Minute,
	models.KindFundamentals: 24 * time.Hour,
	models.KindInsider:      time.Hour,
	models.KindSentiment:    30 * time.Minute,
}

// Fields accumulates parsed values and tracks which expected ones were absent.
type Fields struct {
	values  map[string]float64
	missing int
}

func NewFields() *Fields { return &Fields{values: make(map[string]float64)} }

// Set stores v under name when ok and v is finite; otherwise it counts a miss.
func (f *Fields) Set(name string, v float64, ok bool) {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		f.missing++
		return
	}
	f.values[name] = v
}

// Miss counts an expected field that could not be obtained.
func (f *Fields) Miss() { f.missing++ }

func (f *Fields) Len() int { return len(f.values) }

// Snapshot turns the accumulated fields into a result. No fields at all is a
// total failure of the source.
func (f *Fields) Snapshot(source, symbol string, kind models.QueryKind, at time.Time) (models.SourceSnapshot, error) {
	if len(f.values) == 0 {
		return models.SourceSnapshot{}, models.NewSourceError(source, kind, errors.New("no fields in response"))
	}
	return models.SourceSnapshot{
		Source:    source,
		Symbol:    symbol,
		Kind:      kind,
		FetchedAt: at,
		Fields:    f.values,
		Partial:   f.missing > 0,
	}, nil
}

// Supports reports whether kind is in kinds.
func Supports(kinds []models.QueryKind, kind models.QueryKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Wrap turns a transport error into a SourceError unless it is a context error.
func Wrap(source string, kind models.QueryKind, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.NewSourceError(source, kind, err)
	}
	var se *models.SourceError
	if errors.As(err, &se) {
		return err
	}
	return models.NewSourceError(source, kind, err)
}
