package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketpulse/internal/domain/market_data"
	"marketpulse/internal/domain/signal"
	"marketpulse/pkg/logger"
)

var t0 = time.Date(2025, 11, 29, 12, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

func btcQuote(last float64) *market_data.Quote {
	return &market_data.Quote{
		Timestamp: t0,
		Exchange:  market_data.SourceBinance,
		Symbol:    "BTC-USDT",
		Last:      market_data.Float(last),
	}
}

type decoded struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func receive(t *testing.T, sub *Subscription) decoded {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		var env decoded
		require.NoError(t, json.Unmarshal(msg, &env))
		return env
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return decoded{}
	}
}

func TestBroadcaster_FiltersBySymbol(t *testing.T) {
	b := NewBroadcaster(testLogger(), WithClock(clockwork.NewFakeClockAt(t0)))

	btc := b.Subscribe([]string{"BTC-USDT"})
	defer btc.Close()
	eth := b.Subscribe([]string{"ETH-USDT", "SOL-USDT"})
	defer eth.Close()

	b.PublishQuote(btcQuote(100))

	env := receive(t, btc)
	assert.Equal(t, TypeTick, env.Type)

	var q market_data.Quote
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, "BTC-USDT", q.Symbol)
	assert.Equal(t, 100.0, market_data.Value(q.Last))

	assert.Empty(t, eth.Messages())
}

func TestBroadcaster_PublishSignal(t *testing.T) {
	b := NewBroadcaster(testLogger(), WithClock(clockwork.NewFakeClockAt(t0)))
	sub := b.Subscribe([]string{"BTC-USDT"})
	defer sub.Close()

	b.PublishSignal(&signal.Signal{Symbol: "BTC-USDT", Direction: signal.DirectionBuy, Score: 0.7, Timestamp: t0})
	b.PublishSignal(&signal.Signal{Symbol: "ETH-USDT", Direction: signal.DirectionSell, Timestamp: t0})

	env := receive(t, sub)
	assert.Equal(t, TypeSignal, env.Type)

	var s signal.Signal
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, signal.DirectionBuy, s.Direction)
	assert.Empty(t, sub.Messages())
}

func TestBroadcaster_NonBlockingOnFullBuffer(t *testing.T) {
	b := NewBroadcaster(testLogger(), WithClock(clockwork.NewFakeClockAt(t0)), WithBufferSize(1))

	slow := b.Subscribe([]string{"BTC-USDT"})
	defer slow.Close()
	other := b.Subscribe([]string{"ETH-USDT"})
	defer other.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.PublishQuote(btcQuote(float64(100 + i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}

	assert.Len(t, slow.Messages(), 1, "slow subscriber keeps only what fits in its buffer")

	var q market_data.Quote
	require.NoError(t, json.Unmarshal(receive(t, slow).Data, &q))
	assert.Equal(t, 100.0, market_data.Value(q.Last))

	ethQuote := marketQuoteETH
	b.PublishQuote(&ethQuote)
	assert.Equal(t, TypeTick, receive(t, other).Type, "other subscribers are unaffected")
}

func TestBroadcaster_Heartbeat(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	b := NewBroadcaster(testLogger(), WithClock(clock))

	sub := b.Subscribe([]string{"BTC-USDT"})
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(14 * time.Second)
	assert.Empty(t, sub.Messages())

	clock.Advance(time.Second)
	env := receive(t, sub)
	assert.Equal(t, TypePing, env.Type)

	var ping Ping
	require.NoError(t, json.Unmarshal(env.Data, &ping))
	assert.True(t, ping.Timestamp.Equal(t0.Add(15*time.Second)))
}

func TestSubscription_CloseIsIndependent(t *testing.T) {
	b := NewBroadcaster(testLogger(), WithClock(clockwork.NewFakeClockAt(t0)))

	first := b.Subscribe([]string{"BTC-USDT"})
	second := b.Subscribe([]string{"BTC-USDT"})
	defer second.Close()
	assert.Equal(t, 2, b.Count())

	first.Close()
	first.Close()
	assert.Equal(t, 1, b.Count())

	select {
	case <-first.Done():
	default:
		t.Fatal("done channel not closed")
	}

	b.PublishQuote(btcQuote(100))
	assert.Equal(t, TypeTick, receive(t, second).Type)
	assert.Empty(t, first.Messages())
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(testLogger(), WithClock(clockwork.NewFakeClockAt(t0)))
	b.Subscribe([]string{"BTC-USDT"})
	b.Subscribe([]string{"ETH-USDT"})

	b.Close()
	assert.Zero(t, b.Count())
}

var marketQuoteETH = market_data.Quote{
	Timestamp: t0,
	Exchange:  market_data.SourceBinance,
	Symbol:    "ETH-USDT",
	Last:      market_data.Float(3000),
}
