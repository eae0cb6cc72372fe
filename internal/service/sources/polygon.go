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
)

const PolygonID = "polygon"

// PolygonAdapter serves quotes from the previous-day aggregate.
type PolygonAdapter struct {
	cfg  Config
	http *xhttp.ServiceBase
	log  *applogger.Logger
	now  func() time.Time
}

var _ dservice.SourceAdapter = (*PolygonAdapter)(nil)

func NewPolygon(cfg Config, log *applogger.Logger) *PolygonAdapter {
	return &PolygonAdapter{
		cfg:  cfg,
		http: cfg.service("https://api.polygon.io"),
		log:  log,
		now:  time.Now,
	}
}

func (p *PolygonAdapter) ID() string                { return PolygonID }
func (p *PolygonAdapter) Kinds() []models.QueryKind { return []models.QueryKind{models.KindQuote} }

func (p *PolygonAdapter) Budget() models.RateBudget {
	return p.cfg.budget(models.RateBudget{RequestsPerMinute: 5, Burst: 2})
}

func (p *PolygonAdapter) TTL(kind models.QueryKind) time.Duration {
	return p.cfg.ttl(kind, DefaultTTLs)
}

type polygonAgg struct {
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
	T int64   `json:"t"`
}

type polygonPrev struct {
	Status       string       `json:"status"`
	ResultsCount int          `json:"resultsCount"`
	Results      []polygonAgg `json:"results"`
}

func (p *PolygonAdapter) Fetch(ctx context.Context, symbol string, kind models.QueryKind) (models.SourceSnapshot, error) {
	if kind != models.KindQuote {
		return models.SourceSnapshot{}, fmt.Errorf("%s %s: %w", PolygonID, kind, models.ErrUnsupportedKind)
	}
	var resp polygonPrev
	path := fmt.Sprintf("/v2/aggs/ticker/%s/prev", symbol)
	q := map[string][]string{"adjusted": {"true"}, "apiKey": {p.cfg.APIKey}}
	if err := p.http.GetJSON(ctx, path, q, &resp); err != nil {
		return models.SourceSnapshot{}, Wrap(PolygonID, kind, err)
	}
	if len(resp.Results) == 0 {
		return models.SourceSnapshot{}, Wrap(PolygonID, kind, errors.New("no aggregate"))
	}
	bar := resp.Results[0]

	f := NewFields()
	f.Set(models.FieldPrice, bar.C, bar.C > 0)
	f.Set(models.FieldOpen, bar.O, bar.O > 0)
	f.Set(models.FieldHigh, bar.H, bar.H > 0)
	f.Set(models.FieldLow, bar.L, bar.L > 0)
	f.Set(models.FieldVolume, bar.V, bar.V >= 0)
	if bar.O > 0 && bar.C > 0 {
		f.Set(models.FieldChangePct, bar.C/bar.O-1, true)
	}
	return f.Snapshot(PolygonID, symbol, kind, p.now())
}
