package signals

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/domain/market_data"
	"marketpulse/internal/domain/signal"
	"marketpulse/pkg/errors"
)

var t0 = time.Date(2025, 11, 29, 12, 0, 0, 0, time.UTC)

func buyFeatures() *market_data.Features {
	return &market_data.Features{
		R1s:        0.001,
		R5s:        0.002,
		RV30s:      0.01,
		OFIProxy:   0.5,
		SentimentZ: 2.0,
	}
}

func sellFeatures() *market_data.Features {
	return &market_data.Features{
		R1s:        -0.001,
		R5s:        -0.002,
		RV30s:      0.01,
		OFIProxy:   -0.25,
		SentimentZ: -2.0,
	}
}

func TestEvaluate_Buy(t *testing.T) {
	e := NewEngine(DefaultConfig())

	s := e.Evaluate("BTC-USDT", buyFeatures(), t0)
	require.NotNil(t, s)

	assert.Equal(t, signal.DirectionBuy, s.Direction)
	assert.Equal(t, "BTC-USDT", s.Symbol)
	assert.Equal(t, t0, s.Timestamp)
	assert.NotEqual(t, uuid.Nil, s.ID)
	// 0.4*2 + 0.4*0.002*100 + 0.2*0.5 = 0.98
	assert.InDelta(t, 0.98, s.Score, 1e-9)

	assert.Equal(t, signal.TriggerPositiveSentimentMomentum, s.Reasons.Trigger)
	assert.Equal(t, 2.0, s.Reasons.SentimentZ)
	assert.Equal(t, 0.002, s.Reasons.Momentum)
	assert.Equal(t, 0.01, s.Reasons.Volatility)
	assert.Equal(t, 0.5, s.Reasons.OFI)
	assert.Nil(t, s.Reasons.RiskScore)
	assert.Empty(t, s.Reasons.Timeframes)
}

func TestEvaluate_Sell(t *testing.T) {
	e := NewEngine(DefaultConfig())

	s := e.Evaluate("ETH-USDT", sellFeatures(), t0)
	require.NotNil(t, s)
	assert.Equal(t, signal.DirectionSell, s.Direction)
	assert.Equal(t, signal.TriggerNegativeSentimentMomentum, s.Reasons.Trigger)
}

func TestEvaluate_Cooldown(t *testing.T) {
	e := NewEngine(DefaultConfig())

	require.NotNil(t, e.Evaluate("BTC-USDT", buyFeatures(), t0))
	assert.Nil(t, e.Evaluate("BTC-USDT", buyFeatures(), t0.Add(time.Second)))
	assert.Nil(t, e.Evaluate("BTC-USDT", buyFeatures(), t0.Add(5*time.Minute-time.Millisecond)))

	again := e.Evaluate("BTC-USDT", buyFeatures(), t0.Add(6*time.Minute))
	require.NotNil(t, again)

	last, ok := e.LastSignal("BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, t0.Add(6*time.Minute), last)
}

func TestEvaluate_CooldownIsPerSymbol(t *testing.T) {
	e := NewEngine(DefaultConfig())

	require.NotNil(t, e.Evaluate("BTC-USDT", buyFeatures(), t0))
	assert.NotNil(t, e.Evaluate("ETH-USDT", buyFeatures(), t0.Add(time.Second)))
}

func TestEvaluate_RejectionDoesNotStartCooldown(t *testing.T) {
	e := NewEngine(DefaultConfig())

	weak := buyFeatures()
	weak.SentimentZ = 0.5
	assert.Nil(t, e.Evaluate("BTC-USDT", weak, t0))

	_, ok := e.LastSignal("BTC-USDT")
	assert.False(t, ok)
	assert.NotNil(t, e.Evaluate("BTC-USDT", buyFeatures(), t0.Add(time.Second)))
}

func TestEvaluate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *market_data.Features)
	}{
		{"volatility below band", func(f *market_data.Features) { f.RV30s = 0.00001 }},
		{"volatility above band", func(f *market_data.Features) { f.RV30s = 0.06 }},
		{"momentum disagreement", func(f *market_data.Features) { f.R1s = -0.001 }},
		{"flat short horizon", func(f *market_data.Features) { f.R1s = 0 }},
		{"sentiment below threshold", func(f *market_data.Features) { f.SentimentZ = 1.5 }},
		{"momentum below threshold", func(f *market_data.Features) { f.R1s, f.R5s = 0.0005, 0.0005 }},
		{"positive sentiment negative momentum", func(f *market_data.Features) { f.R1s, f.R5s = -0.001, -0.002 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(DefaultConfig())
			f := buyFeatures()
			tt.mutate(f)
			assert.Nil(t, e.Evaluate("BTC-USDT", f, t0))
		})
	}
}

func TestEvaluate_NoSellOnSignDisagreement(t *testing.T) {
	e := NewEngine(DefaultConfig())

	for _, sz := range []float64{-1.6, -3, -10, -1000} {
		f := sellFeatures()
		f.SentimentZ = sz
		f.R1s = 0.001

		assert.Nil(t, e.Evaluate("BTC-USDT", f, t0), "sentiment_z=%v", sz)
	}
}

func TestEvaluate_NeverEmitsWatch(t *testing.T) {
	// watch is a reserved direction the rules do not produce
	e := NewEngine(Config{
		SentimentThreshold: 0,
		MomentumThreshold:  0,
		VolatilityMin:      0,
		VolatilityMax:      1,
		Cooldown:           0,
	})

	values := []float64{-1, -0.01, 0, 0.01, 1}
	for _, r1 := range values {
		for _, r5 := range values {
			for _, sz := range values {
				f := &market_data.Features{R1s: r1, R5s: r5, RV30s: 0.01, SentimentZ: sz}
				s := e.Evaluate("BTC-USDT", f, t0)
				if s != nil {
					assert.NotEqual(t, signal.DirectionWatch, s.Direction)
				}
			}
		}
	}
}

func TestEvaluate_NilFeatures(t *testing.T) {
	e := NewEngine(DefaultConfig())
	assert.Nil(t, e.Evaluate("BTC-USDT", nil, t0))
	assert.False(t, e.EvaluateAlert(signal.AlertPolicy{}, nil))
}

func TestScore_Clamped(t *testing.T) {
	e := NewEngine(DefaultConfig())
	f := &market_data.Features{SentimentZ: 5, R5s: 0.05, OFIProxy: 1}
	assert.Equal(t, 1.0, e.Score(f))
}

func TestEvaluate_RiskAdjustment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableRiskAdjustment = true
	e := NewEngine(cfg)

	f := buyFeatures()
	f.RV30s = 0.03
	s := e.Evaluate("BTC-USDT", f, t0)
	require.NotNil(t, s)

	// 0.98 minus the 0.1 high-volatility penalty
	assert.InDelta(t, 0.88, s.Score, 1e-9)
	require.NotNil(t, s.Reasons.RiskScore)
	// (0.6 + 0.1 + 0.2) / 3
	assert.InDelta(t, 0.3, *s.Reasons.RiskScore, 1e-9)
}

func TestScore_RiskFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableRiskAdjustment = true
	e := NewEngine(cfg)

	f := &market_data.Features{SentimentZ: 0.1, RV30s: 0.03}
	assert.InDelta(t, 0.1, e.Score(f), 1e-9)
}

func TestEvaluate_MultiTimeframe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableMultiTimeframe = true
	e := NewEngine(cfg)

	f := buyFeatures()
	f.R1s = 0.002
	f.R5s = 0.006
	f.RV30s = 0.02

	s := e.Evaluate("BTC-USDT", f, t0)
	require.NotNil(t, s)
	assert.Equal(t, []string{"1m", "5m", "15m"}, s.Reasons.Timeframes)
}

func TestEvaluateAlert(t *testing.T) {
	e := NewEngine(DefaultConfig())
	policy := signal.AlertPolicy{
		Symbol:             "BTC-USDT",
		SentimentThreshold: 1,
		MomentumThreshold:  0.001,
		VolatilityMin:      0.001,
		VolatilityMax:      0.05,
	}

	tests := []struct {
		name string
		f    market_data.Features
		want bool
	}{
		{"fires on strong positive", market_data.Features{R1s: 0.001, R5s: 0.002, RV30s: 0.01, SentimentZ: 2}, true},
		{"ignores direction", market_data.Features{R1s: 0.001, R5s: -0.002, RV30s: 0.01, SentimentZ: 2}, true},
		{"outside band", market_data.Features{R5s: 0.002, RV30s: 0.1, SentimentZ: 2}, false},
		{"weak sentiment", market_data.Features{R5s: 0.002, RV30s: 0.01, SentimentZ: 0.5}, false},
		{"weak momentum", market_data.Features{R5s: 0.0005, RV30s: 0.01, SentimentZ: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.f
			assert.Equal(t, tt.want, e.EvaluateAlert(policy, &f))
		})
	}

	// no cooldown: repeated evaluation keeps firing
	f := tests[0].f
	assert.True(t, e.EvaluateAlert(policy, &f))
	assert.True(t, e.EvaluateAlert(policy, &f))
}

type stubAlertRepo struct {
	alerts []signal.Alert
	err    error
}

func (r *stubAlertRepo) Create(context.Context, *signal.Alert) error { return nil }

func (r *stubAlertRepo) ListActive(context.Context) ([]signal.Alert, error) {
	return r.alerts, r.err
}

func TestPolicyBook(t *testing.T) {
	e := NewEngine(DefaultConfig())
	policy := signal.AlertPolicy{Symbol: "BTC-USDT", SentimentThreshold: 1, MomentumThreshold: 0.001, VolatilityMax: 1}

	book := NewPolicyBook()
	require.NoError(t, book.Load(context.Background(), &stubAlertRepo{alerts: []signal.Alert{
		{ID: uuid.New(), AlertPolicy: policy, Active: true},
	}}))
	assert.Equal(t, 1, book.Len())

	book.Add(signal.Alert{ID: uuid.New(), AlertPolicy: policy, Active: false})
	assert.Equal(t, 1, book.Len(), "inactive alerts are ignored")

	ethPolicy := policy
	ethPolicy.Symbol = "ETH-USDT"
	book.Add(signal.Alert{ID: uuid.New(), AlertPolicy: ethPolicy, Active: true})

	matched := book.Match(e, "BTC-USDT", buyFeatures())
	assert.Len(t, matched, 1)
	assert.Empty(t, book.Match(e, "SOL-USDT", buyFeatures()))

	err := book.Load(context.Background(), &stubAlertRepo{err: errors.ErrUnavailable})
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}
