package finnhub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalFusion/internal/domain/models"
	dservice "SignalFusion/internal/domain/service"
	"SignalFusion/internal/service/sources"
	xhttp "SignalFusion/pkg/http"
	applogger "SignalFusion/pkg/logger"
)

const RESTID = "finnhub"

// RESTAdapter covers every query kind through the Finnhub REST API.
type RESTAdapter struct {
	cfg  sources.Config
	http *xhttp.ServiceBase
	log  *applogger.Logger
	now  func() time.Time
}

var _ dservice.SourceAdapter = (*RESTAdapter)(nil)

func NewRESTAdapter(cfg sources.Config, log *applogger.Logger) *RESTAdapter {
	base := cfg.BaseURL
	if base == "" {
		base = "https://finnhub.io/api/v1"
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = xhttp.NewClient(xhttp.WithTimeout(timeout))
	}
	return &RESTAdapter{
		cfg: cfg,
		http: xhttp.NewServiceBase(base, client,
			xhttp.WithRetry(cfg.Retries+1, 200*time.Millisecond),
			xhttp.WithHeader("X-Finnhub-Token", cfg.APIKey)),
		log: log,
		now: time.Now,
	}
}

func (a *RESTAdapter) ID() string { return RESTID }

func (a *RESTAdapter) Kinds() []models.QueryKind { return models.AllKinds() }

// Budget defaults to the free plan: 60 calls per minute.
func (a *RESTAdapter) Budget() models.RateBudget {
	if a.cfg.Budget.RequestsPerMinute > 0 {
		return a.cfg.Budget
	}
	return models.RateBudget{RequestsPerMinute: 60, Burst: 5}
}

func (a *RESTAdapter) TTL(kind models.QueryKind) time.Duration {
	if d, ok := a.cfg.TTL[kind]; ok && d > 0 {
		return d
	}
	return sources.DefaultTTLs[kind]
}

func (a *RESTAdapter) Fetch(ctx context.Context, symbol string, kind models.QueryKind) (models.SourceSnapshot, error) {
	var (
		f   *sources.Fields
		err error
	)
	switch kind {
	case models.KindQuote:
		f, err = a.quote(ctx, symbol)
	case models.KindFundamentals:
		f, err = a.fundamentals(ctx, symbol)
	case models.KindInsider:
		f, err = a.insider(ctx, symbol)
	case models.KindSentiment:
		f, err = a.sentiment(ctx, symbol)
	default:
		return models.SourceSnapshot{}, fmt.Errorf("%s %s: %w", RESTID, kind, models.ErrUnsupportedKind)
	}
	if err != nil {
		return models.SourceSnapshot{}, sources.Wrap(RESTID, kind, err)
	}
	return f.Snapshot(RESTID, symbol, kind, a.now())
}

type quoteResp struct {
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	DP float64 `json:"dp"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	O  float64 `json:"o"`
	PC float64 `json:"pc"`
	T  int64   `json:"t"`
}

func (a *RESTAdapter) quote(ctx context.Context, symbol string) (*sources.Fields, error) {
	var q quoteResp
	if err := a.http.GetJSON(ctx, "/quote", map[string][]string{"symbol": {symbol}}, &q); err != nil {
		return nil, err
	}
	// unknown symbols come back as all zeros
	if q.C == 0 && q.T == 0 {
		return nil, errors.New("empty quote")
	}
	f := sources.NewFields()
	f.Set(models.FieldPrice, q.C, q.C > 0)
	f.Set(models.FieldOpen, q.O, q.O > 0)
	f.Set(models.FieldHigh, q.H, q.H > 0)
	f.Set(models.FieldLow, q.L, q.L > 0)
	f.Set(models.FieldPrevClose, q.PC, q.PC > 0)
	f.Set(models.FieldChangePct, q.DP/100, true)
	return f, nil
}

type metricResp struct {
	Metric map[string]interface{} `json:"metric"`
}

// first returns the first numeric value among keys.
func first(m map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

func (a *RESTAdapter) fundamentals(ctx context.Context, symbol string) (*sources.Fields, error) {
	var m metricResp
	q := map[string][]string{"symbol": {symbol}, "metric": {"all"}}
	if err := a.http.GetJSON(ctx, "/stock/metric", q, &m); err != nil {
		return nil, err
	}
	if len(m.Metric) == 0 {
		return nil, errors.New("no metrics")
	}

	f := sources.NewFields()
	v, ok := first(m.Metric, "peTTM", "peBasicExclExtraTTM", "peNormalizedAnnual")
	f.Set(models.FieldPERatio, v, ok)
	v, ok = first(m.Metric, "pegTTM", "pegRatio")
	f.Set(models.FieldPEGRatio, v, ok)
	// percentages on this endpoint
	v, ok = first(m.Metric, "roeTTM", "roeRfy")
	f.Set(models.FieldROE, v/100, ok)
	v, ok = first(m.Metric, "totalDebt/totalEquityQuarterly", "totalDebt/totalEquityAnnual")
	f.Set(models.FieldDebtToEquity, v, ok)
	v, ok = first(m.Metric, "revenueGrowthTTMYoy", "revenueGrowthQuarterlyYoy")
	f.Set(models.FieldRevenueGrowth, v/100, ok)
	v, ok = first(m.Metric, "netProfitMarginTTM", "netProfitMarginAnnual")
	f.Set(models.FieldNetMargin, v/100, ok)
	v, ok = first(m.Metric, "marketCapitalization")
	f.Set(models.FieldMarketCap, v*1e6, ok)
	if v, ok = first(m.Metric, "freeCashFlowTTM", "freeCashFlowAnnual"); ok {
		f.Set(models.FieldFreeCashFlow, v*1e6, true)
	}

	var pt struct {
		TargetMean float64 `json:"targetMean"`
	}
	if err := a.http.GetJSON(ctx, "/stock/price-target", map[string][]string{"symbol": {symbol}}, &pt); err != nil {
		a.log.Debug("finnhub.price_target failed", applogger.String("symbol", symbol), applogger.Error(err))
		f.Miss()
	} else {
		f.Set(models.FieldPriceTarget, pt.TargetMean, pt.TargetMean > 0)
	}
	return f, nil
}

type insiderTx struct {
	Name             string  `json:"name"`
	Share            float64 `json:"share"`
	Change           float64 `json:"change"`
	TransactionCode  string  `json:"transactionCode"`
	TransactionPrice float64 `json:"transactionPrice"`
	TransactionDate  string  `json:"transactionDate"`
}

func (a *RESTAdapter) insider(ctx context.Context, symbol string) (*sources.Fields, error) {
	to := a.now().UTC()
	from := to.AddDate(0, -3, 0)
	q := map[string][]string{
		"symbol": {symbol},
		"from":   {from.Format(time.DateOnly)},
		"to":     {to.Format(time.DateOnly)},
	}
	var resp struct {
		Data []insiderTx `json:"data"`
	}
	if err := a.http.GetJSON(ctx, "/stock/insider-transactions", q, &resp); err != nil {
		return nil, err
	}

	var buy, sell, net, trades float64
	for _, tx := range resp.Data {
		// open-market purchases (P) and sales (S) only; grants and exercises are noise
		switch tx.TransactionCode {
		case "P":
			buy += abs(tx.Change) * tx.TransactionPrice
		case "S":
			sell += abs(tx.Change) * tx.TransactionPrice
		default:
			continue
		}
		net += tx.Change
		trades++
	}
	f := sources.NewFields()
	f.Set(models.FieldInsiderBuyValue, buy, true)
	f.Set(models.FieldInsiderSellValue, sell, true)
	f.Set(models.FieldInsiderNetShares, net, true)
	f.Set(models.FieldInsiderTrades, trades, true)
	return f, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

type newsSentimentResp struct {
	Buzz struct {
		Buzz float64 `json:"buzz"`
	} `json:"buzz"`
	CompanyNewsScore float64 `json:"companyNewsScore"`
	Sentiment        *struct {
		Bearish float64 `json:"bearishPercent"`
		Bullish float64 `json:"bullishPercent"`
	} `json:"sentiment"`
}

type recommendation struct {
	StrongBuy  float64 `json:"strongBuy"`
	Buy        float64 `json:"buy"`
	Hold       float64 `json:"hold"`
	Sell       float64 `json:"sell"`
	StrongSell float64 `json:"strongSell"`
	Period     string  `json:"period"`
}

// analystScore maps a recommendation-trend row onto [-1, 1].
func analystScore(r recommendation) (float64, bool) {
	total := r.StrongBuy + r.Buy + r.Hold + r.Sell + r.StrongSell
	if total == 0 {
		return 0, false
	}
	return (2*r.StrongBuy + r.Buy - r.Sell - 2*r.StrongSell) / (2 * total), true
}

func (a *RESTAdapter) sentiment(ctx context.Context, symbol string) (*sources.Fields, error) {
	var ns newsSentimentResp
	if err := a.http.GetJSON(ctx, "/news-sentiment", map[string][]string{"symbol": {symbol}}, &ns); err != nil {
		return nil, err
	}
	f := sources.NewFields()
	if ns.Sentiment != nil {
		f.Set(models.FieldNewsSentiment, ns.Sentiment.Bullish-ns.Sentiment.Bearish, true)
	} else {
		f.Miss()
	}
	f.Set(models.FieldBuzz, ns.Buzz.Buzz, ns.Sentiment != nil)

	var recs []recommendation
	if err := a.http.GetJSON(ctx, "/stock/recommendation", map[string][]string{"symbol": {symbol}}, &recs); err != nil {
		a.log.Debug("finnhub.recommendation failed", applogger.String("symbol", symbol), applogger.Error(err))
		f.Miss()
	} else if len(recs) > 0 {
		// newest period first
		v, ok := analystScore(recs[0])
		f.Set(models.FieldAnalystSentiment, v, ok)
	} else {
		f.Miss()
	}
	return f, nil
}
