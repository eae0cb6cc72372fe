package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalFusion/internal/domain/models"
	dservice "SignalFusion/internal/domain/service"
	xhttp "SignalFusion/pkg/http"
	applogger "SignalFusion/pkg/logger"
	"SignalFusion/pkg/util"
)

const AlphaVantageID = "alphavantage"

// AlphaVantageAdapter serves quotes (GLOBAL_QUOTE) and fundamentals
// (OVERVIEW). Every numeric arrives as a string; "None" means absent.
type AlphaVantageAdapter struct {
	cfg  Config
	http *xhttp.ServiceBase
	log  *applogger.Logger
	now  func() time.Time
}

var _ dservice.SourceAdapter = (*AlphaVantageAdapter)(nil)

func NewAlphaVantage(cfg Config, log *applogger.Logger) *AlphaVantageAdapter {
	return &AlphaVantageAdapter{
		cfg:  cfg,
		http: cfg.service("https://www.alphavantage.co"),
		log:  log,
		now:  time.Now,
	}
}

func (a *AlphaVantageAdapter) ID() string { return AlphaVantageID }

func (a *AlphaVantageAdapter) Kinds() []models.QueryKind {
	return []models.QueryKind{models.KindQuote, models.KindFundamentals}
}

// Budget defaults to the free tier: 5 calls per minute.
func (a *AlphaVantageAdapter) Budget() models.RateBudget {
	return a.cfg.budget(models.RateBudget{RequestsPerMinute: 5, Burst: 1})
}

func (a *AlphaVantageAdapter) TTL(kind models.QueryKind) time.Duration {
	return a.cfg.ttl(kind, DefaultTTLs)
}

func (a *AlphaVantageAdapter) Fetch(ctx context.Context, symbol string, kind models.QueryKind) (models.SourceSnapshot, error) {
	switch kind {
	case models.KindQuote:
		return a.quote(ctx, symbol)
	case models.KindFundamentals:
		return a.overview(ctx, symbol)
	default:
		return models.SourceSnapshot{}, fmt.Errorf("%s %s: %w", AlphaVantageID, kind, models.ErrUnsupportedKind)
	}
}

func (a *AlphaVantageAdapter) query(function, symbol string) map[string][]string {
	return map[string][]string{
		"function": {function},
		"symbol":   {symbol},
		"apikey":   {a.cfg.APIKey},
	}
}

// throttled detects the 200-with-a-note response AlphaVantage sends when
// the key is over quota.
func throttled(m map[string]interface{}) error {
	for _, k := range []string{"Note", "Information", "Error Message"} {
		if v, ok := m[k]; ok {
			return fmt.Errorf("alphavantage: %v", v)
		}
	}
	return nil
}

func (a *AlphaVantageAdapter) quote(ctx context.Context, symbol string) (models.SourceSnapshot, error) {
	var raw map[string]interface{}
	if err := a.http.GetJSON(ctx, "/query", a.query("GLOBAL_QUOTE", symbol), &raw); err != nil {
		return models.SourceSnapshot{}, Wrap(AlphaVantageID, models.KindQuote, err)
	}
	if err := throttled(raw); err != nil {
		return models.SourceSnapshot{}, Wrap(AlphaVantageID, models.KindQuote, err)
	}
	q, ok := raw["Global Quote"].(map[string]interface{})
	if !ok || len(q) == 0 {
		return models.SourceSnapshot{}, Wrap(AlphaVantageID, models.KindQuote, errors.New("empty quote"))
	}

	f := NewFields()
	set := func(field, key string) {
		s, _ := q[key].(string)
		v, ok := util.ParseFloatLoose(s)
		f.Set(field, v, ok)
	}
	set(models.FieldOpen, "02. open")
	set(models.FieldHigh, "03. high")
	set(models.FieldLow, "04. low")
	set(models.FieldPrice, "05. price")
	set(models.FieldVolume, "06. volume")
	set(models.FieldPrevClose, "08. previous close")
	set(models.FieldChangePct, "10. change percent")

	return f.Snapshot(AlphaVantageID, symbol, models.KindQuote, a.now())
}

func (a *AlphaVantageAdapter) overview(ctx context.Context, symbol string) (models.SourceSnapshot, error) {
	var raw map[string]interface{}
	if err := a.http.GetJSON(ctx, "/query", a.query("OVERVIEW", symbol), &raw); err != nil {
		return models.SourceSnapshot{}, Wrap(AlphaVantageID, models.KindFundamentals, err)
	}
	if err := throttled(raw); err != nil {
		return models.SourceSnapshot{}, Wrap(AlphaVantageID, models.KindFundamentals, err)
	}
	if _, ok := raw["Symbol"]; !ok {
		return models.SourceSnapshot{}, Wrap(AlphaVantageID, models.KindFundamentals, errors.New("unknown symbol"))
	}

	f := NewFields()
	set := func(field, key string) {
		s, _ := raw[key].(string)
		v, ok := util.ParseFloatLoose(s)
		f.Set(field, v, ok)
	}
	set(models.FieldPERatio, "PERatio")
	set(models.FieldPEGRatio, "PEGRatio")
	set(models.FieldROE, "ReturnOnEquityTTM")
	set(models.FieldRevenueGrowth, "QuarterlyRevenueGrowthYOY")
	set(models.FieldNetMargin, "ProfitMargin")
	set(models.FieldMarketCap, "MarketCapitalization")
	set(models.FieldPriceTarget, "AnalystTargetPrice")

	snap, err := f.Snapshot(AlphaVantageID, symbol, models.KindFundamentals, a.now())
	if err == nil && snap.Partial {
		a.log.Debug("alphavantage.overview partial", applogger.String("symbol", symbol), applogger.Int("fields", f.Len()))
	}
	return snap, err
}
