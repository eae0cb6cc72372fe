package features

import (
	"fmt"
	"math"
	"strconv"

	"SignalFusion/internal/domain/models"
	"SignalFusion/pkg/config"
	applogger "SignalFusion/pkg/logger"
)

var (
	returnLags   = []int{1, 3, 5, 10, 20, 50}
	trendPeriods = []int{5, 10, 20, 50, 200}
	rvWindows    = []int{5, 20, 50}
	volPeriods   = []int{5, 20}
)

// snapshot fields copied as-is, filled with Neutral.Fundamental when missing
var snapshotFields = []string{
	models.FieldPERatio,
	models.FieldPEGRatio,
	models.FieldROE,
	models.FieldDebtToEquity,
	models.FieldRevenueGrowth,
	models.FieldNetMargin,
	models.FieldNewsSentiment,
}

// Builder turns candle history plus a merged snapshot into a fixed-width
// feature vector. It holds no per-call state.
type Builder struct {
	neutral        config.Neutral
	minHistory     int
	periodsPerYear float64
	names          []string
	log            *applogger.Logger
}

// NewBuilder creates a builder. minHistory is the first row used by TrainingSet.
func NewBuilder(neutral config.Neutral, minHistory int, periodsPerYear float64, log *applogger.Logger) *Builder {
	if periodsPerYear <= 0 {
		periodsPerYear = 252
	}
	if minHistory < 2 {
		minHistory = 2
	}
	b := &Builder{neutral: neutral, minHistory: minHistory, periodsPerYear: periodsPerYear, log: log}
	r := b.compute(nil, nil)
	b.names = r.names
	return b
}

// Names returns the feature names in vector order.
func (b *Builder) Names() []string { return append([]string(nil), b.names...) }

// Width is the fixed vector length.
func (b *Builder) Width() int { return len(b.names) }

// Build encodes symbol at the last candle of series.
func (b *Builder) Build(symbol string, series []models.Candle, snap *models.MergedSnapshot) models.FeatureVector {
	r := b.compute(series, snap)
	if len(r.degraded) > 0 {
		b.log.Debug("features.degraded",
			applogger.String("symbol", symbol),
			applogger.Int("candles", len(series)),
			applogger.Int("count", len(r.degraded)),
			applogger.Strings("features", r.degraded))
	}
	return models.FeatureVector{Symbol: symbol, Names: r.names, Values: r.values, Degraded: r.degraded}
}

// TrainingSet builds time-ordered rows. Row t uses candles[:t+1] only and its
// target is close[t+horizon]/close[t]-1.
func (b *Builder) TrainingSet(series []models.Candle, horizon int) ([][]float64, []float64, error) {
	if horizon <= 0 {
		return nil, nil, fmt.Errorf("horizon %d: %w", horizon, models.ErrInvalidInput)
	}
	first := b.minHistory - 1
	last := len(series) - 1 - horizon
	if last < first {
		return nil, nil, fmt.Errorf("%d candles for horizon %d, need %d: %w",
			len(series), horizon, b.minHistory+horizon, models.ErrInsufficientHistory)
	}
	X := make([][]float64, 0, last-first+1)
	y := make([]float64, 0, last-first+1)
	for t := first; t <= last; t++ {
		c0, c1 := series[t].Close, series[t+horizon].Close
		if c0 <= 0 {
			continue
		}
		X = append(X, b.compute(series[:t+1], nil).values)
		y = append(y, c1/c0-1)
	}
	if len(X) == 0 {
		return nil, nil, fmt.Errorf("no usable rows: %w", models.ErrInsufficientHistory)
	}
	return X, y, nil
}

type row struct {
	names    []string
	values   []float64
	degraded []string
}

func (r *row) add(name string, v float64, ok bool, neutral float64) {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		v = neutral
		r.degraded = append(r.degraded, name)
	}
	r.names = append(r.names, name)
	r.values = append(r.values, v)
}

func ratio(a, b float64) (float64, bool) {
	if b == 0 {
		return 0, false
	}
	return a / b, true
}

func (b *Builder) compute(cs []models.Candle, snap *models.MergedSnapshot) row {
	n := b.neutral
	r := row{
		names:  make([]string, 0, len(b.names)),
		values: make([]float64, 0, len(b.names)),
	}
	closes := models.Closes(cs)
	var last models.Candle
	if len(cs) > 0 {
		last = cs[len(cs)-1]
	}

	// returns
	for _, k := range returnLags {
		v, ok := 0.0, len(closes) > k
		if ok {
			v, ok = ratio(last.Close, closes[len(closes)-1-k])
			v--
		}
		r.add("ret_"+strconv.Itoa(k), v, ok, n.Return)
	}
	logRets := ComputeLogReturns(cs)
	lr, ok := 0.0, len(logRets) > 0
	if ok {
		lr = logRets[len(logRets)-1]
	}
	r.add("log_ret_1", lr, ok, n.Return)

	// price ratios
	have := len(cs) > 0
	v, ok := ratio(last.Close, last.Open)
	r.add("close_open", v, have && ok, n.Ratio)
	v, ok = ratio(last.High, last.Low)
	r.add("high_low", v, have && ok, n.Ratio)
	v, ok = ratio((last.High+last.Low)/2, last.Close)
	r.add("mid_close", v, have && ok, n.Ratio)

	// trend
	for _, p := range trendPeriods {
		sma, ok := SMA(closes, p)
		if ok {
			v, ok = ratio(last.Close, sma)
		}
		r.add("close_sma_"+strconv.Itoa(p), v, ok, n.Ratio)
	}
	for _, p := range trendPeriods {
		ema, ok := EMA(closes, p)
		if ok {
			v, ok = ratio(last.Close, ema)
		}
		r.add("close_ema_"+strconv.Itoa(p), v, ok, n.Ratio)
	}

	// oscillators
	rsi, ok := RSI(closes, 14)
	r.add("rsi_14", rsi, ok, n.RSI)
	macd, ok := MACD(closes, 12, 26, 9)
	r.add("macd", macd.Line, ok, n.Oscillator)
	r.add("macd_signal", macd.Signal, ok, n.Oscillator)
	r.add("macd_hist", macd.Histogram, ok, n.Oscillator)
	k, ok := Stochastic(cs, 14)
	r.add("stoch_k_14", k, ok, n.Stochastic)
	w, ok := WilliamsR(cs, 14)
	r.add("williams_r_14", w, ok, n.Williams)
	pb, width, ok := Bollinger(closes, 20, 2)
	r.add("bb_percent_b_20", pb, ok, n.PercentB)
	r.add("bb_width_20", width, ok, n.Volatility)

	// volatility
	for _, win := range rvWindows {
		rv, ok := RealizedVolatility(logRets, win, b.periodsPerYear)
		r.add("rv_"+strconv.Itoa(win), rv, ok, n.Volatility)
	}
	atr, ok := ATR(cs, 14)
	if ok {
		atr, ok = ratio(atr, last.Close)
	}
	r.add("atr_14_close", atr, ok, n.Volatility)

	// volume
	vols := volumes(cs)
	for _, p := range volPeriods {
		avg, ok := SMA(vols, p)
		if ok {
			v, ok = ratio(last.Volume, avg)
		}
		r.add("volume_sma_"+strconv.Itoa(p), v, ok, n.Ratio)
	}

	// snapshot
	for _, f := range snapshotFields {
		v, ok := snap.Value(f)
		r.add(f, v, ok, n.Fundamental)
	}
	buy, okB := snap.Value(models.FieldInsiderBuyValue)
	sell, okS := snap.Value(models.FieldInsiderSellValue)
	v, ok = ratio(buy-sell, buy+sell)
	r.add("insider_net_ratio", v, (okB || okS) && ok, n.Fundamental)

	price, ok := snap.Value(models.FieldPrice)
	if !ok || price <= 0 {
		price, ok = last.Close, last.Close > 0
	}
	target, okT := snap.Value(models.FieldPriceTarget)
	v, okR := ratio(target, price)
	r.add("price_target_ratio", v, ok && okT && okR, n.Ratio)

	return r
}
