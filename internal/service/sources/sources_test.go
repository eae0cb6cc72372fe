package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalFusion/internal/domain/models"
	applogger "SignalFusion/pkg/logger"
)

func serve(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestAlphaVantage_Quote(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"Global Quote":{"01. symbol":"AAPL","02. open":"150.10","03. high":"152.00",
			"04. low":"149.50","05. price":"151.25","06. volume":"1000","08. previous close":"150.00","10. change percent":"0.8333%"}}`))
	})
	a := NewAlphaVantage(Config{BaseURL: url, APIKey: "k"}, applogger.Nop())

	s, err := a.Fetch(context.Background(), "AAPL", models.KindQuote)
	require.NoError(t, err)
	assert.False(t, s.Partial)
	assert.Equal(t, AlphaVantageID, s.Source)
	assert.Equal(t, 151.25, s.Fields[models.FieldPrice])
	assert.InDelta(t, 0.008333, s.Fields[models.FieldChangePct], 1e-9)
}

func TestAlphaVantage_OverviewPartial(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Symbol":"AAPL","PERatio":"28.5","PEGRatio":"None","ReturnOnEquityTTM":"1.47",
			"QuarterlyRevenueGrowthYOY":"0.021","ProfitMargin":"0.246","MarketCapitalization":"2900000000000","AnalystTargetPrice":"-"}`))
	})
	a := NewAlphaVantage(Config{BaseURL: url}, applogger.Nop())

	s, err := a.Fetch(context.Background(), "AAPL", models.KindFundamentals)
	require.NoError(t, err)
	assert.True(t, s.Partial)
	assert.Equal(t, 28.5, s.Fields[models.FieldPERatio])
	_, hasPEG := s.Fields[models.FieldPEGRatio]
	assert.False(t, hasPEG)
}

func TestAlphaVantage_QuotaNoteIsFailure(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Note":"Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`))
	})
	a := NewAlphaVantage(Config{BaseURL: url}, applogger.Nop())

	_, err := a.Fetch(context.Background(), "AAPL", models.KindQuote)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSourceFailure))
}

func TestAlphaVantage_UnsupportedKind(t *testing.T) {
	a := NewAlphaVantage(Config{BaseURL: "http://unused"}, applogger.Nop())
	_, err := a.Fetch(context.Background(), "AAPL", models.KindInsider)
	assert.ErrorIs(t, err, models.ErrUnsupportedKind)
}

func TestPolygon_PrevAggregate(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/aggs/ticker/MSFT/prev", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"OK","resultsCount":1,"results":[{"o":400,"h":410,"l":395,"c":404,"v":12345,"t":1700000000000}]}`))
	})
	p := NewPolygon(Config{BaseURL: url}, applogger.Nop())

	s, err := p.Fetch(context.Background(), "MSFT", models.KindQuote)
	require.NoError(t, err)
	assert.Equal(t, 404.0, s.Fields[models.FieldPrice])
	assert.InDelta(t, 0.01, s.Fields[models.FieldChangePct], 1e-12)
}

func TestPolygon_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"o":1,"h":1,"l":1,"c":1,"v":1}]}`))
	})
	p := NewPolygon(Config{BaseURL: url, Retries: 2}, applogger.Nop())

	_, err := p.Fetch(context.Background(), "MSFT", models.KindQuote)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPolygon_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})
	p := NewPolygon(Config{BaseURL: url, Retries: 3}, applogger.Nop())

	_, err := p.Fetch(context.Background(), "MSFT", models.KindQuote)
	var se *models.SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, PolygonID, se.Source)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConfigDefaults(t *testing.T) {
	c := Config{TTL: map[models.QueryKind]time.Duration{models.KindQuote: 5 * time.Second}}
	assert.Equal(t, 5*time.Second, c.ttl(models.KindQuote, DefaultTTLs))
	assert.Equal(t, 24*time.Hour, c.ttl(models.KindFundamentals, DefaultTTLs))
	assert.Equal(t, models.RateBudget{RequestsPerMinute: 5, Burst: 1}, c.budget(models.RateBudget{RequestsPerMinute: 5, Burst: 1}))
}
