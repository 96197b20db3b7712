package signals

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketpulse/internal/domain/market_data"
	"marketpulse/internal/domain/signal"
	"marketpulse/internal/metrics"
)

// Config holds the decision thresholds
type Config struct {
	SentimentThreshold float64
	MomentumThreshold  float64
	VolatilityMin      float64
	VolatilityMax      float64
	Cooldown           time.Duration

	EnableRiskAdjustment bool
	EnableMultiTimeframe bool
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		SentimentThreshold: 1.5,
		MomentumThreshold:  0.001,
		VolatilityMin:      0.0001,
		VolatilityMax:      0.05,
		Cooldown:           5 * time.Minute,
	}
}

// Engine turns feature sets into buy/sell signals. It owns the per-symbol
// cooldown state; callers serialize evaluations of the same symbol.
type Engine struct {
	cfg Config

	mu         sync.Mutex
	lastSignal map[string]time.Time
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:        cfg,
		lastSignal: make(map[string]time.Time),
	}
}

// Evaluate applies the rules in order: cooldown, volatility band, momentum
// sign agreement, then the buy and sell conditions. Returns nil when nothing
// fires. An emitted signal starts the symbol's cooldown.
func (e *Engine) Evaluate(symbol string, f *market_data.Features, ts time.Time) *signal.Signal {
	if f == nil {
		return nil
	}

	if last, ok := e.last(symbol); ok && ts.Sub(last) < e.cfg.Cooldown {
		metrics.SignalsRejected.WithLabelValues(symbol, "cooldown").Inc()
		return nil
	}

	if !e.inBand(f.RV30s, e.cfg.VolatilityMin, e.cfg.VolatilityMax) {
		metrics.SignalsRejected.WithLabelValues(symbol, "volatility").Inc()
		return nil
	}

	if sign(f.R1s) != sign(f.R5s) {
		metrics.SignalsRejected.WithLabelValues(symbol, "disagreement").Inc()
		return nil
	}

	var (
		direction signal.Direction
		trigger   string
	)
	momentum := math.Abs(f.R5s) > e.cfg.MomentumThreshold

	switch {
	case f.SentimentZ > e.cfg.SentimentThreshold && momentum && f.R5s > 0:
		direction, trigger = signal.DirectionBuy, signal.TriggerPositiveSentimentMomentum
	case f.SentimentZ < -e.cfg.SentimentThreshold && momentum && f.R5s < 0:
		direction, trigger = signal.DirectionSell, signal.TriggerNegativeSentimentMomentum
	default:
		metrics.SignalsRejected.WithLabelValues(symbol, "threshold").Inc()
		return nil
	}

	e.mu.Lock()
	e.lastSignal[symbol] = ts
	e.mu.Unlock()

	reasons := signal.Reasons{
		SentimentZ: f.SentimentZ,
		Momentum:   f.R5s,
		Volatility: f.RV30s,
		OFI:        f.OFIProxy,
		Trigger:    trigger,
	}
	if e.cfg.EnableRiskAdjustment {
		risk := e.RiskScore(f)
		reasons.RiskScore = &risk
	}
	if e.cfg.EnableMultiTimeframe {
		reasons.Timeframes = e.Timeframes(f)
	}

	metrics.SignalsEmitted.WithLabelValues(symbol, string(direction)).Inc()

	return &signal.Signal{
		ID:        uuid.New(),
		Timestamp: ts,
		Symbol:    symbol,
		Direction: direction,
		Score:     e.Score(f),
		Reasons:   reasons,
	}
}

// EvaluateAlert reports whether a user policy fires for f. It checks the
// policy's volatility band and both magnitude thresholds; cooldown and
// direction do not apply.
func (e *Engine) EvaluateAlert(policy signal.AlertPolicy, f *market_data.Features) bool {
	if f == nil {
		return false
	}
	if !e.inBand(f.RV30s, policy.VolatilityMin, policy.VolatilityMax) {
		return false
	}
	return math.Abs(f.SentimentZ) > policy.SentimentThreshold &&
		math.Abs(f.R5s) > policy.MomentumThreshold
}

// Score is clamp(0, 1, 0.4|sz| + 0.4|r5|*100 + 0.2|ofi|) with the optional
// risk and timeframe adjustments applied
func (e *Engine) Score(f *market_data.Features) float64 {
	score := 0.4*math.Abs(f.SentimentZ) + 0.4*math.Abs(f.R5s)*100 + 0.2*math.Abs(f.OFIProxy)
	score = math.Min(1, score)

	if e.cfg.EnableRiskAdjustment {
		penalty := 0.0
		if f.RV30s > 0.02 {
			penalty = 0.1
		}
		score = math.Max(0.1, score-penalty)
	}

	if e.cfg.EnableMultiTimeframe {
		consistency := 0.8
		if sign(f.R1s) == sign(f.R5s) {
			consistency = 1.0
		}
		score *= consistency
	}

	return math.Max(0, math.Min(1, score))
}

// RiskScore blends volatility, momentum and sentiment extremes into [0, 1]
func (e *Engine) RiskScore(f *market_data.Features) float64 {
	volatilityRisk := math.Min(1, f.RV30s/0.05)

	momentumRisk := 0.1
	if math.Abs(f.R5s) > 0.01 {
		momentumRisk = 0.3
	}

	sentimentRisk := 0.2
	if math.Abs(f.SentimentZ) > 2 {
		sentimentRisk = 0.4
	}

	return math.Min(1, (volatilityRisk+momentumRisk+sentimentRisk)/3)
}

// Timeframes lists the chart horizons on which the move is notable
func (e *Engine) Timeframes(f *market_data.Features) []string {
	frames := make([]string, 0, 3)
	if math.Abs(f.R1s) > 0.001 {
		frames = append(frames, "1m")
	}
	if math.Abs(f.R5s) > 0.005 {
		frames = append(frames, "5m")
	}
	if f.RV30s > 0.01 {
		frames = append(frames, "15m")
	}
	return frames
}

// LastSignal returns when symbol last emitted a signal
func (e *Engine) LastSignal(symbol string) (time.Time, bool) {
	return e.last(symbol)
}

func (e *Engine) last(symbol string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.lastSignal[symbol]
	return t, ok
}

func (e *Engine) inBand(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
