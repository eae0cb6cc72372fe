package models

import (
	"strings"
	"time"
)

// MaxSymbolLen bounds the length of a normalized symbol.
const MaxSymbolLen = 10

// NormalizeSymbol trims and uppercases s. Dots and dashes are allowed as
// class separators (BRK.B); everything else must be alphanumeric.
func NormalizeSymbol(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) == 0 || len(s) > MaxSymbolLen {
		return "", ErrInvalidSymbol
	}
	alnum := 0
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			alnum++
		case r == '.' || r == '-':
		default:
			return "", ErrInvalidSymbol
		}
	}
	if alnum == 0 {
		return "", ErrInvalidSymbol
	}
	return s, nil
}

// QueryKind selects the family of fields an adapter is asked for.
type QueryKind string

const (
	KindQuote        QueryKind = "quote"
	KindFundamentals QueryKind = "fundamentals"
	KindInsider      QueryKind = "insider"
	KindSentiment    QueryKind = "sentiment"
)

// AllKinds lists every recognized query kind in a stable order.
func AllKinds() []QueryKind {
	return []QueryKind{KindQuote, KindFundamentals, KindInsider, KindSentiment}
}

// FieldSetVersion is bumped whenever a recognized field name is added or renamed.
const FieldSetVersion = 1

// Recognized field names per query kind.
const (
	FieldPrice     = "price"
	FieldOpen      = "open"
	FieldHigh      = "high"
	FieldLow       = "low"
	FieldPrevClose = "prev_close"
	FieldVolume    = "volume"
	FieldChangePct = "change_pct"

	FieldPERatio       = "pe_ratio"
	FieldPEGRatio      = "peg_ratio"
	FieldROE           = "roe"
	FieldDebtToEquity  = "debt_to_equity"
	FieldRevenueGrowth = "revenue_growth"
	FieldNetMargin     = "net_margin"
	FieldFreeCashFlow  = "free_cash_flow"
	FieldMarketCap     = "market_cap"
	FieldPriceTarget   = "price_target"

	FieldInsiderBuyValue  = "insider_buy_value"
	FieldInsiderSellValue = "insider_sell_value"
	FieldInsiderNetShares = "insider_net_shares"
	FieldInsiderTrades    = "insider_trade_count"
	FieldInsiderExecBuys  = "insider_exec_buys"

	FieldNewsSentiment    = "news_sentiment"
	FieldAnalystSentiment = "analyst_sentiment"
	FieldSocialSentiment  = "social_sentiment"
	FieldBuzz             = "buzz"
)

var recognizedFields = map[QueryKind][]string{
	KindQuote:        {FieldPrice, FieldOpen, FieldHigh, FieldLow, FieldPrevClose, FieldVolume, FieldChangePct},
	KindFundamentals: {FieldPERatio, FieldPEGRatio, FieldROE, FieldDebtToEquity, FieldRevenueGrowth, FieldNetMargin, FieldFreeCashFlow, FieldMarketCap, FieldPriceTarget},
	KindInsider:      {FieldInsiderBuyValue, FieldInsiderSellValue, FieldInsiderNetShares, FieldInsiderTrades, FieldInsiderExecBuys},
	KindSentiment:    {FieldNewsSentiment, FieldAnalystSentiment, FieldSocialSentiment, FieldBuzz},
}

// RecognizedFields returns the versioned field names for kind.
func RecognizedFields(kind QueryKind) []string {
	return append([]string(nil), recognizedFields[kind]...)
}

// IsRecognizedField reports whether name belongs to the field set of kind.
func IsRecognizedField(kind QueryKind, name string) bool {
	for _, f := range recognizedFields[kind] {
		if f == name {
			return true
		}
	}
	return false
}

// RateBudget is the outbound request budget an adapter declares.
type RateBudget struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	Burst             int `json:"burst"`
}

// SourceSnapshot is one adapter result. It is never mutated after creation;
// newer fetches supersede it.
type SourceSnapshot struct {
	Source    string             `json:"source"`
	Symbol    string             `json:"symbol"`
	Kind      QueryKind          `json:"kind"`
	FetchedAt time.Time          `json:"fetched_at"`
	Fields    map[string]float64 `json:"fields"`
	Partial   bool               `json:"is_partial"`
}

// Age returns how old the snapshot is at now.
func (s SourceSnapshot) Age(now time.Time) time.Duration { return now.Sub(s.FetchedAt) }

// FieldValue is a merged field together with its provenance.
type FieldValue struct {
	Value     float64   `json:"value"`
	Source    string    `json:"source"`
	Kind      QueryKind `json:"kind"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SourceState summarizes how a source contributed to a merge.
type SourceState string

const (
	SourceOK      SourceState = "ok"
	SourcePartial SourceState = "partial"
	SourceStale   SourceState = "stale"
	SourceFailed  SourceState = "failed"
)

// SourceStatus records the outcome of one source for one kind.
type SourceStatus struct {
	Source string      `json:"source"`
	Kind   QueryKind   `json:"kind"`
	Status SourceState `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// MergedSnapshot is the per-symbol fusion of all fresh source snapshots.
type MergedSnapshot struct {
	Symbol  string                `json:"symbol"`
	AsOf    time.Time             `json:"as_of"`
	Fields  map[string]FieldValue `json:"fields"`
	Sources []SourceStatus        `json:"sources"`
}

// Value returns the merged value for name, if present.
func (m *MergedSnapshot) Value(name string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	fv, ok := m.Fields[name]
	if !ok {
		return 0, false
	}
	return fv.Value, true
}

// Errors returns failed sources keyed by "source/kind".
func (m *MergedSnapshot) Errors() map[string]string {
	if m == nil {
		return nil
	}
	out := map[string]string{}
	for _, s := range m.Sources {
		if s.Status == SourceFailed {
			out[s.Source+"/"+string(s.Kind)] = s.Error
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
