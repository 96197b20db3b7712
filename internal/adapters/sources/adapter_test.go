package sources

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/domain/market_data"
	"marketpulse/pkg/errors"
)

var fixedNow = time.Date(2025, 11, 29, 12, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	clock := clockwork.NewFakeClockAt(fixedNow)

	a, err := New(market_data.SourceCoinbase, clock)
	require.NoError(t, err)
	assert.Equal(t, market_data.SourceCoinbase, a.Source())

	b, err := New(market_data.SourceBinance, clock)
	require.NoError(t, err)
	assert.Equal(t, market_data.SourceBinance, b.Source())

	_, err = New("kraken", clock)
	assert.ErrorIs(t, err, errors.ErrUnknownSource)
}

func TestCoinbaseAdapter_Parse(t *testing.T) {
	a := NewCoinbaseAdapter(clockwork.NewFakeClockAt(fixedNow))

	t.Run("ticker", func(t *testing.T) {
		q := a.Parse([]byte(`{
			"type":"ticker","product_id":"BTC-USD","price":"50000.50",
			"best_bid":"50000.00","best_ask":"50001.00",
			"best_bid_size":"1.5","best_ask_size":"0.5","last_size":"0.01"
		}`))
		require.NotNil(t, q)

		assert.Equal(t, fixedNow, q.Timestamp)
		assert.Equal(t, market_data.SourceCoinbase, q.Exchange)
		assert.Equal(t, "BTC-USDT", q.Symbol)
		assert.InDelta(t, 50000.50, *q.Last, 1e-9)
		assert.InDelta(t, 50000.00, *q.Bid, 1e-9)
		assert.InDelta(t, 50001.00, *q.Ask, 1e-9)
		assert.InDelta(t, 1.5, *q.BidSize, 1e-9)
		assert.InDelta(t, 0.5, *q.AskSize, 1e-9)
		assert.InDelta(t, 0.01, *q.TradeSize, 1e-9)
	})

	t.Run("missing sizes are absent", func(t *testing.T) {
		q := a.Parse([]byte(`{"type":"ticker","product_id":"ETH-USD","price":3000}`))
		require.NotNil(t, q)
		assert.Equal(t, "ETH-USDT", q.Symbol)
		assert.InDelta(t, 3000.0, *q.Last, 1e-9)
		assert.Nil(t, q.BidSize)
		assert.Nil(t, q.AskSize)
		assert.Nil(t, q.TradeSize)
	})

	t.Run("unparsable number is absent", func(t *testing.T) {
		q := a.Parse([]byte(`{"type":"ticker","product_id":"ETH-USD","price":"n/a","best_bid":""}`))
		require.NotNil(t, q)
		assert.Nil(t, q.Last)
		assert.Nil(t, q.Bid)
	})

	rejected := map[string]string{
		"heartbeat":      `{"type":"heartbeat","product_id":"BTC-USD"}`,
		"subscriptions":  `{"type":"subscriptions","channels":[]}`,
		"missing symbol": `{"type":"ticker","price":"1"}`,
		"not json":       `not json`,
		"array":          `[1,2,3]`,
		"empty":          ``,
	}
	for name, raw := range rejected {
		t.Run("rejects "+name, func(t *testing.T) {
			assert.Nil(t, a.Parse([]byte(raw)))
		})
	}
}

func TestCoinbaseAdapter_Subscribe(t *testing.T) {
	a := NewCoinbaseAdapter(clockwork.NewFakeClockAt(fixedNow))

	raw, err := a.SubscribeMessage([]string{"BTC-USDT", "ETH-USDT"})
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "subscribe", msg["type"])
	assert.Equal(t, []interface{}{"BTC-USD", "ETH-USD"}, msg["product_ids"])
	assert.Equal(t, []interface{}{"ticker"}, msg["channels"])
}

func TestCoinbaseAdapter_REST(t *testing.T) {
	a := NewCoinbaseAdapter(clockwork.NewFakeClockAt(fixedNow))

	assert.Equal(t, "https://api.exchange.coinbase.com/products/BTC-USD/ticker",
		a.TickerURL("https://api.exchange.coinbase.com/", "BTC-USDT"))

	q := a.ParseTicker([]byte(`{"ask":"101.5","bid":"101.0","volume":"12","trade_id":1,"price":"101.2","size":"0.3","time":"2025-11-29T11:59:59.5Z"}`), "BTC-USDT")
	require.NotNil(t, q)
	assert.Equal(t, "BTC-USDT", q.Symbol)
	assert.Equal(t, time.Date(2025, 11, 29, 11, 59, 59, 500000000, time.UTC), q.Timestamp)
	assert.InDelta(t, 101.2, *q.Last, 1e-9)
	assert.InDelta(t, 0.3, *q.TradeSize, 1e-9)
	assert.Nil(t, q.BidSize)

	assert.Nil(t, a.ParseTicker([]byte(`{"message":"NotFound"}`), "BTC-USDT"))
}

func TestBinanceAdapter_Parse(t *testing.T) {
	a := NewBinanceAdapter(clockwork.NewFakeClockAt(fixedNow))

	q := a.Parse([]byte(`{
		"e":"24hrTicker","E":1764417600000,"s":"BTCUSDT",
		"c":"50000.10","b":"50000.00","B":"30","a":"50000.20","A":"10","Q":"0.002","q":"123456789.0"
	}`))
	require.NotNil(t, q)

	assert.Equal(t, time.UnixMilli(1764417600000).UTC(), q.Timestamp)
	assert.Equal(t, market_data.SourceBinance, q.Exchange)
	assert.Equal(t, "BTC-USDT", q.Symbol)
	assert.InDelta(t, 50000.10, *q.Last, 1e-9)
	assert.InDelta(t, 30.0, *q.BidSize, 1e-9)
	assert.InDelta(t, 10.0, *q.AskSize, 1e-9)
	assert.InDelta(t, 0.002, *q.TradeSize, 1e-9)

	t.Run("missing event time uses clock", func(t *testing.T) {
		q := a.Parse([]byte(`{"s":"DOGEUSDT","c":"0.1"}`))
		require.NotNil(t, q)
		assert.Equal(t, fixedNow, q.Timestamp)
		assert.Equal(t, "DOGEUSDT", q.Symbol)
	})

	t.Run("subscription ack rejected", func(t *testing.T) {
		assert.Nil(t, a.Parse([]byte(`{"result":null,"id":1}`)))
	})
}

func TestBinanceAdapter_Subscribe(t *testing.T) {
	a := NewBinanceAdapter(clockwork.NewFakeClockAt(fixedNow))

	raw, err := a.SubscribeMessage([]string{"BTC-USDT", "SOL-USDT"})
	require.NoError(t, err)

	var msg binanceSubscribe
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "SUBSCRIBE", msg.Method)
	assert.Equal(t, []string{"btcusdt@ticker", "solusdt@ticker"}, msg.Params)
	assert.Equal(t, int64(1), msg.ID)

	raw, err = a.SubscribeMessage([]string{"BTC-USDT"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, int64(2), msg.ID)
}

func TestBinanceAdapter_REST(t *testing.T) {
	a := NewBinanceAdapter(clockwork.NewFakeClockAt(fixedNow))

	assert.Equal(t, "https://api.binance.com/api/v3/ticker/24hr?symbol=ETHUSDT",
		a.TickerURL("https://api.binance.com", "ETH-USDT"))

	q := a.ParseTicker([]byte(`{"symbol":"ETHUSDT","lastPrice":"3000.5","bidPrice":"3000.4","bidQty":"2","askPrice":"3000.6","askQty":"6","lastQty":"0.1","closeTime":1764417600000}`), "ETH-USDT")
	require.NotNil(t, q)
	assert.Equal(t, "ETH-USDT", q.Symbol)
	assert.InDelta(t, 3000.5, *q.Last, 1e-9)
	assert.InDelta(t, 2.0, *q.BidSize, 1e-9)
	assert.InDelta(t, 6.0, *q.AskSize, 1e-9)

	assert.Nil(t, a.ParseTicker([]byte(`{"code":-1121,"msg":"Invalid symbol."}`), "ETH-USDT"))
}
