package market_data

import "time"

// Upstream source identifiers
const (
	SourceCoinbase = "coinbase"
	SourceBinance  = "binance"
)

// Quote is the canonical quote record produced by source adapters.
// Numeric fields are nil when the upstream payload omits them.
// Symbol is always canonical (BASE-QUOTE).
type Quote struct {
	Timestamp time.Time `json:"ts"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Last      *float64  `json:"last,omitempty"`
	Bid       *float64  `json:"bid,omitempty"`
	Ask       *float64  `json:"ask,omitempty"`
	BidSize   *float64  `json:"bid_size,omitempty"`
	AskSize   *float64  `json:"ask_size,omitempty"`
	TradeSize *float64  `json:"trade_size,omitempty"`
}

// HasPrice reports whether the quote carries a last price
func (q *Quote) HasPrice() bool {
	return q != nil && q.Last != nil
}

// Features are the per-quote micro-structure statistics
type Features struct {
	R1s        float64 `json:"r_1s"`
	R5s        float64 `json:"r_5s"`
	RV30s      float64 `json:"rv_30s"`
	OFIProxy   float64 `json:"ofi_proxy"`
	SentimentZ float64 `json:"sentiment_z"`
}

// Float returns a pointer to v, for building optional quote fields
func Float(v float64) *float64 {
	return &v
}

// Value dereferences an optional field, returning 0 when absent
func Value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
