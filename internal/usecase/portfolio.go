package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"SignalFusion/internal/domain/models"
	drepo "SignalFusion/internal/domain/repository"
	"SignalFusion/internal/services/risk"
	applogger "SignalFusion/pkg/logger"
)

// PriceProvider returns current prices with per-symbol errors. The Aggregator
// satisfies it.
type PriceProvider interface {
	Prices(ctx context.Context, symbols []string) (map[string]float64, map[string]error)
}

// PortfolioService owns portfolio state. Mutations of one portfolio are
// serialized; different portfolios proceed in parallel.
type PortfolioService struct {
	store       drepo.KVStore
	prices      PriceProvider
	candles     drepo.CandleStore
	risk        *risk.Engine
	tf          drepo.Timeframe
	historyBars int
	prefix      string
	log         *applogger.Logger
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type PortfolioOption func(*PortfolioService)

// WithKeyPrefix sets the KV key prefix.
func WithKeyPrefix(p string) PortfolioOption {
	return func(s *PortfolioService) { s.prefix = p }
}

// WithHistory sets the candle timeframe and lookback used by Risk.
func WithHistory(tf drepo.Timeframe, bars int) PortfolioOption {
	return func(s *PortfolioService) {
		if drepo.IsValidTimeframe(tf) {
			s.tf = tf
		}
		if bars >= 2 {
			s.historyBars = bars
		}
	}
}

// WithPortfolioClock overrides time.Now.
func WithPortfolioClock(now func() time.Time) PortfolioOption {
	return func(s *PortfolioService) { s.now = now }
}

func NewPortfolioService(store drepo.KVStore, prices PriceProvider, candles drepo.CandleStore, engine *risk.Engine, log *applogger.Logger, opts ...PortfolioOption) *PortfolioService {
	s := &PortfolioService{
		store:       store,
		prices:      prices,
		candles:     candles,
		risk:        engine,
		tf:          drepo.DefaultTimeframe(),
		historyBars: 252,
		prefix:      "portfolio:",
		log:         log,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *PortfolioService) lock(name string) func() {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 64 {
		return "", fmt.Errorf("portfolio name %q: %w", name, models.ErrInvalidInput)
	}
	return name, nil
}

func (s *PortfolioService) load(ctx context.Context, name string) (*models.Portfolio, error) {
	b, err := s.store.Load(ctx, s.prefix+name)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("portfolio %s: %w", name, models.ErrPortfolioNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load portfolio %s: %w", name, err)
	}
	var p models.Portfolio
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode portfolio %s: %w", name, err)
	}
	if p.Positions == nil {
		p.Positions = map[string]models.Position{}
	}
	return &p, nil
}

func (s *PortfolioService) save(ctx context.Context, p *models.Portfolio) error {
	p.UpdatedAt = s.now().UTC()
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode portfolio %s: %w", p.Name, err)
	}
	if err := s.store.Save(ctx, s.prefix+p.Name, b); err != nil {
		return fmt.Errorf("save portfolio %s: %w", p.Name, err)
	}
	return nil
}

// Create makes an empty portfolio.
func (s *PortfolioService) Create(ctx context.Context, name string) (*models.Portfolio, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	defer s.lock(name)()

	if _, err := s.load(ctx, name); err == nil {
		return nil, fmt.Errorf("portfolio %s: %w", name, models.ErrPortfolioExists)
	} else if !errors.Is(err, models.ErrPortfolioNotFound) {
		return nil, err
	}
	now := s.now().UTC()
	p := &models.Portfolio{Name: name, Positions: map[string]models.Position{}, CreatedAt: now}
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("portfolio.created", applogger.String("name", name))
	return p, nil
}

// Get returns the stored portfolio.
func (s *PortfolioService) Get(ctx context.Context, name string) (*models.Portfolio, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, name)
}

// AddPosition buys qty at price. Topping up an existing position moves its
// average price to the quantity-weighted mean.
func (s *PortfolioService) AddPosition(ctx context.Context, name, symbol string, qty, price decimal.Decimal) (*models.Portfolio, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	symbol, err = models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !qty.IsPositive() || !price.IsPositive() {
		return nil, fmt.Errorf("quantity and price must be positive: %w", models.ErrInvalidInput)
	}
	defer s.lock(name)()

	p, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	pos, held := p.Positions[symbol]
	if held {
		total := pos.Quantity.Add(qty)
		pos.AvgPrice = pos.Cost().Add(qty.Mul(price)).Div(total)
		pos.Quantity = total
	} else {
		pos = models.Position{Quantity: qty, AvgPrice: price}
	}
	p.Positions[symbol] = pos
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("portfolio.position added",
		applogger.String("name", name),
		applogger.String("symbol", symbol),
		applogger.String("quantity", pos.Quantity.String()),
		applogger.String("avg_price", pos.AvgPrice.String()))
	return p, nil
}

// RemovePosition sells qty. Zero or the full quantity closes the position.
func (s *PortfolioService) RemovePosition(ctx context.Context, name, symbol string, qty decimal.Decimal) (*models.Portfolio, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	symbol, err = models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if qty.IsNegative() {
		return nil, fmt.Errorf("quantity must not be negative: %w", models.ErrInvalidInput)
	}
	defer s.lock(name)()

	p, err := s.load(ctx, name)
	if err != nil {
		return nil, err
	}
	pos, held := p.Positions[symbol]
	if !held {
		return nil, fmt.Errorf("position %s in %s: %w", symbol, name, models.ErrNotFound)
	}
	switch cmp := qty.Cmp(pos.Quantity); {
	case qty.IsZero() || cmp == 0:
		delete(p.Positions, symbol)
	case cmp > 0:
		return nil, fmt.Errorf("remove %s of %s, holding %s: %w", qty, symbol, pos.Quantity, models.ErrInsufficientQuantity)
	default:
		pos.Quantity = pos.Quantity.Sub(qty)
		p.Positions[symbol] = pos
	}
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("portfolio.position removed",
		applogger.String("name", name),
		applogger.String("symbol", symbol),
		applogger.String("quantity", qty.String()))
	return p, nil
}

// Value prices every position now. Symbols without a price are listed in
// Missing and left out of totals and weights.
func (s *PortfolioService) Value(ctx context.Context, name string) (*models.PortfolioValuation, error) {
	p, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.value(ctx, p), nil
}

func (s *PortfolioService) value(ctx context.Context, p *models.Portfolio) *models.PortfolioValuation {
	v := &models.PortfolioValuation{
		Name:      p.Name,
		Total:     decimal.Zero,
		Cost:      decimal.Zero,
		PnL:       decimal.Zero,
		Holdings:  map[string]decimal.Decimal{},
		Weights:   map[string]float64{},
		Timestamp: s.now().UTC(),
	}
	symbols := p.Symbols()
	sort.Strings(symbols)
	if len(symbols) == 0 {
		return v
	}
	prices, errs := s.prices.Prices(ctx, symbols)
	for _, sym := range symbols {
		px, ok := prices[sym]
		if !ok {
			v.Missing = append(v.Missing, sym)
			s.log.Warn("portfolio.price unavailable",
				applogger.String("name", p.Name),
				applogger.String("symbol", sym),
				applogger.Error(errs[sym]))
			continue
		}
		pos := p.Positions[sym]
		h := pos.Quantity.Mul(decimal.NewFromFloat(px))
		v.Holdings[sym] = h
		v.Total = v.Total.Add(h)
		v.Cost = v.Cost.Add(pos.Cost())
	}
	v.PnL = v.Total.Sub(v.Cost)
	if v.Total.IsPositive() {
		for sym, h := range v.Holdings {
			v.Weights[sym] = h.Div(v.Total).InexactFloat64()
		}
	}
	return v
}

// weights returns market-value weights, falling back to cost basis for
// positions without a current price.
func weights(p *models.Portfolio, v *models.PortfolioValuation, symbols []string) []float64 {
	out := make([]float64, len(symbols))
	var total float64
	for i, sym := range symbols {
		h, ok := v.Holdings[sym]
		if !ok {
			h = p.Positions[sym].Cost()
		}
		out[i] = h.InexactFloat64()
		total += out[i]
	}
	if total <= 0 {
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// Risk computes the risk report of the value-weighted return series and
// scores the current weights: concentration, pairwise correlation, stress
// scenarios, the VaR budget and a max-Sharpe allocation, summed up as
// recommendations.
func (s *PortfolioService) Risk(ctx context.Context, name string) (*models.PortfolioRisk, error) {
	p, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	symbols := p.Symbols()
	if len(symbols) == 0 {
		return nil, fmt.Errorf("portfolio %s has no positions: %w", p.Name, models.ErrInvalidInput)
	}
	sort.Strings(symbols)

	series := make([][]float64, len(symbols))
	for i, sym := range symbols {
		cs, err := s.candles.GetLatestNCandles(ctx, sym, s.historyBars+1, s.tf)
		if err != nil {
			return nil, fmt.Errorf("history for %s: %w", sym, err)
		}
		rets := models.SimpleReturns(cs)
		if len(rets) < 2 {
			return nil, fmt.Errorf("%s has %d returns: %w", sym, len(rets), models.ErrInsufficientHistory)
		}
		series[i] = rets
	}

	v := s.value(ctx, p)
	w := weights(p, v, symbols)
	report, err := s.risk.ComputeRisk(risk.PortfolioReturns(w, series), nil)
	if err != nil {
		return nil, fmt.Errorf("portfolio %s: %w", p.Name, err)
	}
	out := &models.PortfolioRisk{
		Name:          p.Name,
		Report:        report,
		Concentration: risk.ConcentrationRisk(w),
		Budget:        risk.Budget(symbols, w, series),
		Timestamp:     s.now().UTC(),
	}
	base := exposure(p, v, symbols)
	for _, st := range risk.StressTest(w, series) {
		st.PnL = base.Mul(decimal.NewFromFloat(st.Return)).Round(2)
		out.Stress = append(out.Stress, st)
	}

	if len(symbols) > 1 {
		if mu, cov, ok := s.risk.Moments(series); ok {
			corr := risk.Correlation(cov)
			out.Correlations = make(map[string]map[string]float64, len(symbols))
			for i, a := range symbols {
				row := make(map[string]float64, len(symbols))
				for j, b := range symbols {
					row[b] = corr[i][j]
				}
				out.Correlations[a] = row
			}
			out.HighCorrelations = risk.HighCorrelations(symbols, corr, risk.MaxCorrelation)

			alloc, err := s.risk.OptimizePortfolio(symbols, mu, cov, nil)
			if err != nil {
				s.log.Warn("portfolio.optimize failed", applogger.String("name", p.Name), applogger.Error(err))
			} else {
				out.Optimized = &alloc
			}
		}
	}
	out.Recommendations = s.risk.Recommend(out, symbols, w)
	return out, nil
}

// exposure is the value the weights are taken over: current holdings, with
// cost standing in for unpriced symbols.
func exposure(p *models.Portfolio, v *models.PortfolioValuation, symbols []string) decimal.Decimal {
	total := decimal.Zero
	for _, sym := range symbols {
		h, ok := v.Holdings[sym]
		if !ok {
			h = p.Positions[sym].Cost()
		}
		total = total.Add(h)
	}
	return total
}

// SizePosition suggests how many shares of symbol to add given the
// portfolio's current value and the symbol's return history.
func (s *PortfolioService) SizePosition(ctx context.Context, name, symbol string) (*models.PositionSizing, error) {
	symbol, err := models.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	v := s.value(ctx, p)
	if !v.Total.IsPositive() {
		return nil, fmt.Errorf("portfolio %s has no priced value: %w", p.Name, models.ErrInvalidInput)
	}

	prices, errs := s.prices.Prices(ctx, []string{symbol})
	px, ok := prices[symbol]
	if !ok {
		return nil, fmt.Errorf("price for %s: %w", symbol, errors.Join(models.ErrDataUnavailable, errs[symbol]))
	}

	cs, err := s.candles.GetLatestNCandles(ctx, symbol, s.historyBars+1, s.tf)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", symbol, err)
	}
	var valueAtRisk, probUp, expected float64
	rets := models.SimpleReturns(cs)
	if rep, err := s.risk.ComputeRisk(rets, nil); err == nil {
		valueAtRisk = rep.VaR95
		var up, sum float64
		for _, r := range rets {
			sum += r
			if r > 0 {
				up++
			}
		}
		probUp = up / float64(len(rets))
		expected = sum / float64(len(rets))
	}

	ps := s.risk.PositionSize(v.Total.InexactFloat64(), px, valueAtRisk, probUp, expected)
	ps.Symbol = symbol
	ps.Price = px
	ps.Recommended = math.Floor(ps.Recommended)
	return &ps, nil
}
