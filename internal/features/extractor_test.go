package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/domain/market_data"
)

var t0 = time.Date(2025, 11, 29, 12, 0, 0, 0, time.UTC)

func quote(ts time.Time, last float64) *market_data.Quote {
	return &market_data.Quote{
		Timestamp: ts,
		Exchange:  market_data.SourceCoinbase,
		Symbol:    "BTC-USDT",
		Last:      market_data.Float(last),
	}
}

func feed(e *Extractor, h *History, quotes ...*market_data.Quote) *market_data.Features {
	var f *market_data.Features
	for _, q := range quotes {
		h.AddQuote(q)
		f = e.Extract(h, q)
	}
	return f
}

func TestExtract_OneSecondReturn(t *testing.T) {
	e := NewExtractor(0, 0)
	h := e.NewHistory()

	f := feed(e, h, quote(t0, 100), quote(t0.Add(time.Second), 101))
	require.NotNil(t, f)
	assert.InDelta(t, 0.01, f.R1s, 1e-12)
	assert.InDelta(t, 0.01, f.R5s, 1e-12, "oldest point is closest to now-5s")
	assert.InDelta(t, 0.01, f.RV30s, 1e-12)
}

func TestExtract_SinglePointReturnsNil(t *testing.T) {
	e := NewExtractor(0, 0)
	h := e.NewHistory()

	assert.Nil(t, feed(e, h, quote(t0, 100)))
}

func TestExtract_IgnoresQuotesWithoutPrice(t *testing.T) {
	e := NewExtractor(0, 0)
	h := e.NewHistory()

	h.AddQuote(quote(t0, 100))
	noPrice := &market_data.Quote{Timestamp: t0.Add(time.Second), Symbol: "BTC-USDT", Bid: market_data.Float(99)}
	h.AddQuote(noPrice)

	assert.Len(t, h.Points(), 1)
	assert.Nil(t, e.Extract(h, noPrice))
}

func TestOFIProxy(t *testing.T) {
	tests := []struct {
		name     string
		bid, ask *float64
		want     float64
	}{
		{"bid heavy", market_data.Float(30), market_data.Float(10), 0.5},
		{"ask heavy", market_data.Float(10), market_data.Float(30), -0.5},
		{"balanced", market_data.Float(5), market_data.Float(5), 0},
		{"missing bid", nil, market_data.Float(10), 0},
		{"missing ask", market_data.Float(10), nil, 0},
		{"zero size", market_data.Float(0), market_data.Float(10), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &market_data.Quote{BidSize: tt.bid, AskSize: tt.ask}
			assert.InDelta(t, tt.want, OFIProxy(q), 1e-12)
		})
	}
}

func TestExtract_OFIUsesCurrentQuoteOnly(t *testing.T) {
	e := NewExtractor(0, 0)
	h := e.NewHistory()

	first := quote(t0, 100)
	first.BidSize, first.AskSize = market_data.Float(100), market_data.Float(1)
	second := quote(t0.Add(time.Second), 100)
	second.BidSize, second.AskSize = market_data.Float(30), market_data.Float(10)

	f := feed(e, h, first, second)
	require.NotNil(t, f)
	assert.InDelta(t, 0.5, f.OFIProxy, 1e-12)
}

func TestPeriodReturn_TieGoesToOldest(t *testing.T) {
	// target is t0+1s; t0 and t0+2s are equally distant
	points := []Point{
		{Timestamp: t0, Price: 100},
		{Timestamp: t0.Add(2 * time.Second), Price: 200},
		{Timestamp: t0.Add(2 * time.Second), Price: 110},
	}

	r := periodReturn(points, t0.Add(2*time.Second), time.Second)
	assert.InDelta(t, 0.10, r, 1e-12)
}

func TestPeriodReturn_ZeroPrice(t *testing.T) {
	points := []Point{
		{Timestamp: t0, Price: 0},
		{Timestamp: t0.Add(time.Second), Price: 100},
	}
	assert.Zero(t, periodReturn(points, t0.Add(time.Second), time.Second))
}

func TestRealizedVolatility(t *testing.T) {
	points := []Point{
		{Timestamp: t0, Price: 50}, // outside the 30s window
		{Timestamp: t0.Add(40 * time.Second), Price: 100},
		{Timestamp: t0.Add(45 * time.Second), Price: 110},
		{Timestamp: t0.Add(50 * time.Second), Price: 99},
	}

	want := math.Sqrt(0.1*0.1 + 0.1*0.1)
	assert.InDelta(t, want, realizedVolatility(points, t0.Add(50*time.Second), 30*time.Second), 1e-12)

	assert.Zero(t, realizedVolatility(points, t0.Add(79*time.Second), 30*time.Second), "fewer than 2 points in window")
}

func TestHistory_EvictsOutsideWindow(t *testing.T) {
	e := NewExtractor(60*time.Second, 0)
	h := e.NewHistory()

	h.AddQuote(quote(t0, 100))
	h.AddQuote(quote(t0.Add(30*time.Second), 101))
	h.AddQuote(quote(t0.Add(60*time.Second), 102))
	assert.Len(t, h.Points(), 3, "a point exactly at the cutoff is kept")

	h.AddQuote(quote(t0.Add(61*time.Second), 103))
	points := h.Points()
	require.Len(t, points, 3)
	assert.Equal(t, 101.0, points[0].Price)
}

func TestHistory_LateQuoteKeepsTimestampOrder(t *testing.T) {
	e := NewExtractor(60*time.Second, 0)
	h := e.NewHistory()

	h.AddQuote(quote(t0, 100))
	h.AddQuote(quote(t0.Add(70*time.Second), 110))
	// stamped by a lagging source clock, arrives after the newer point
	h.AddQuote(quote(t0.Add(65*time.Second), 105))
	h.AddQuote(quote(t0.Add(5*time.Second), 90))

	points := h.Points()
	require.Len(t, points, 2, "points older than the newest minus the window are evicted")
	assert.Equal(t, t0.Add(65*time.Second), points[0].Timestamp)
	assert.Equal(t, t0.Add(70*time.Second), points[1].Timestamp)
}

func TestExtract_CurrentIsNewestPoint(t *testing.T) {
	e := NewExtractor(60*time.Second, 0)
	h := e.NewHistory()

	late := quote(t0.Add(500*time.Millisecond), 100)
	f := feed(e, h,
		quote(t0, 100),
		quote(t0.Add(time.Second), 101),
		late,
	)
	require.NotNil(t, f)
	// now is the late quote's timestamp; closest to now-1s is t0 (100),
	// current is the t0+1s point (101)
	assert.InDelta(t, 0.01, f.R1s, 1e-9)
}

func TestHistory_SentimentCapacity(t *testing.T) {
	e := NewExtractor(0, 100)
	h := e.NewHistory()

	for i := 0; i < 100; i++ {
		h.AddSentiment(float64(i) / 100)
	}
	require.Len(t, h.Sentiment(), 100)

	h.AddSentiment(0.5)
	s := h.Sentiment()
	require.Len(t, s, 100)
	assert.Equal(t, 0.01, s[0], "101st append evicts the oldest")
	assert.Equal(t, 0.5, s[99])
}

func TestZScore(t *testing.T) {
	assert.Zero(t, zScore(nil))
	assert.Zero(t, zScore([]float64{0.3}))
	assert.Zero(t, zScore([]float64{0.2, 0.2, 0.2}), "zero stddev")

	// mean 0.5, population std 0.5
	assert.InDelta(t, 1.0, zScore([]float64{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, zScore([]float64{1, 0}), 1e-12)
}

func TestExtract_SentimentZ(t *testing.T) {
	e := NewExtractor(0, 0)
	h := e.NewHistory()
	h.AddSentiment(0)
	h.AddSentiment(0)
	h.AddSentiment(0.9)

	f := feed(e, h, quote(t0, 100), quote(t0.Add(time.Second), 100))
	require.NotNil(t, f)
	assert.InDelta(t, math.Sqrt2, f.SentimentZ, 1e-9)
}
