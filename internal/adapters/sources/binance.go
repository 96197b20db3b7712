package sources

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"marketpulse/internal/domain/market_data"
)

// BinanceAdapter parses Binance spot <symbol>@ticker stream events and
// /api/v3/ticker/24hr REST responses.
type BinanceAdapter struct {
	clock     clockwork.Clock
	requestID atomic.Int64
}

func NewBinanceAdapter(clock clockwork.Clock) *BinanceAdapter {
	return &BinanceAdapter{clock: clock}
}

func (a *BinanceAdapter) Source() string {
	return market_data.SourceBinance
}

// Parse requires the "s" symbol field; subscription acks and other frames
// are rejected. Timestamp comes from the "E" event time.
func (a *BinanceAdapter) Parse(raw []byte) *market_data.Quote {
	v, release := parse(raw)
	defer release()
	if v == nil {
		return nil
	}

	native := str(v, "s")
	if native == "" {
		return nil
	}

	ts := millis(v, "E")
	if ts.IsZero() {
		ts = a.clock.Now().UTC()
	}

	return &market_data.Quote{
		Timestamp: ts,
		Exchange:  market_data.SourceBinance,
		Symbol:    Normalize(market_data.SourceBinance, native),
		Last:      number(v, "c"),
		Bid:       number(v, "b"),
		Ask:       number(v, "a"),
		BidSize:   number(v, "B"),
		AskSize:   number(v, "A"),
		TradeSize: number(v, "Q"),
	}
}

type binanceSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// SubscribeMessage builds {"method":"SUBSCRIBE","params":["btcusdt@ticker"],"id":n}
func (a *BinanceAdapter) SubscribeMessage(symbols []string) ([]byte, error) {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(Native(market_data.SourceBinance, s))+"@ticker")
	}

	return json.Marshal(binanceSubscribe{
		Method: "SUBSCRIBE",
		Params: streams,
		ID:     a.requestID.Add(1),
	})
}

func (a *BinanceAdapter) TickerURL(baseURL, symbol string) string {
	return fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", strings.TrimRight(baseURL, "/"), Native(market_data.SourceBinance, symbol))
}

func (a *BinanceAdapter) ParseTicker(raw []byte, symbol string) *market_data.Quote {
	v, release := parse(raw)
	defer release()
	if v == nil {
		return nil
	}

	native := str(v, "symbol")
	if native == "" {
		native = Native(market_data.SourceBinance, symbol)
	}

	last := number(v, "lastPrice")
	if last == nil {
		return nil
	}

	ts := millis(v, "closeTime")
	if ts.IsZero() {
		ts = a.clock.Now().UTC()
	}

	return &market_data.Quote{
		Timestamp: ts,
		Exchange:  market_data.SourceBinance,
		Symbol:    Normalize(market_data.SourceBinance, native),
		Last:      last,
		Bid:       number(v, "bidPrice"),
		Ask:       number(v, "askPrice"),
		BidSize:   number(v, "bidQty"),
		AskSize:   number(v, "askQty"),
		TradeSize: number(v, "lastQty"),
	}
}
