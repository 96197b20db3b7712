package sources

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"marketpulse/internal/domain/market_data"
)

// CoinbaseAdapter parses Coinbase Exchange ticker channel messages and
// /products/{id}/ticker REST responses.
type CoinbaseAdapter struct {
	clock clockwork.Clock
}

func NewCoinbaseAdapter(clock clockwork.Clock) *CoinbaseAdapter {
	return &CoinbaseAdapter{clock: clock}
}

func (a *CoinbaseAdapter) Source() string {
	return market_data.SourceCoinbase
}

// Parse accepts only {"type":"ticker"} messages with a product_id.
// The quote is stamped with the local receive time.
func (a *CoinbaseAdapter) Parse(raw []byte) *market_data.Quote {
	v, release := parse(raw)
	defer release()
	if v == nil {
		return nil
	}

	if str(v, "type") != "ticker" {
		return nil
	}

	productID := str(v, "product_id")
	if productID == "" {
		return nil
	}

	return &market_data.Quote{
		Timestamp: a.clock.Now().UTC(),
		Exchange:  market_data.SourceCoinbase,
		Symbol:    Normalize(market_data.SourceCoinbase, productID),
		Last:      number(v, "price"),
		Bid:       number(v, "best_bid"),
		Ask:       number(v, "best_ask"),
		BidSize:   number(v, "best_bid_size"),
		AskSize:   number(v, "best_ask_size"),
		TradeSize: number(v, "last_size"),
	}
}

type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

func (a *CoinbaseAdapter) SubscribeMessage(symbols []string) ([]byte, error) {
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		ids = append(ids, Native(market_data.SourceCoinbase, s))
	}

	return json.Marshal(coinbaseSubscribe{
		Type:       "subscribe",
		ProductIDs: ids,
		Channels:   []string{"ticker"},
	})
}

func (a *CoinbaseAdapter) TickerURL(baseURL, symbol string) string {
	return fmt.Sprintf("%s/products/%s/ticker", strings.TrimRight(baseURL, "/"), Native(market_data.SourceCoinbase, symbol))
}

// ParseTicker maps {"price","bid","ask","size","time"}. The REST ticker has no
// book sizes, so BidSize and AskSize stay nil.
func (a *CoinbaseAdapter) ParseTicker(raw []byte, symbol string) *market_data.Quote {
	v, release := parse(raw)
	defer release()
	if v == nil {
		return nil
	}

	last := number(v, "price")
	if last == nil {
		return nil
	}

	ts := a.clock.Now().UTC()
	if t, err := time.Parse(time.RFC3339Nano, str(v, "time")); err == nil {
		ts = t.UTC()
	}

	return &market_data.Quote{
		Timestamp: ts,
		Exchange:  market_data.SourceCoinbase,
		Symbol:    Normalize(market_data.SourceCoinbase, symbol),
		Last:      last,
		Bid:       number(v, "bid"),
		Ask:       number(v, "ask"),
		TradeSize: number(v, "size"),
	}
}
