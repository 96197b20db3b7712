package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"marketpulse/internal/adapters/kafka"
	"marketpulse/internal/domain/market_data"
	"marketpulse/internal/domain/signal"
	"marketpulse/internal/features"
	"marketpulse/internal/metrics"
	"marketpulse/internal/signals"
	"marketpulse/pkg/logger"
)

// Broadcaster fans quotes and signals out to live subscribers without blocking
type Broadcaster interface {
	PublishQuote(q *market_data.Quote)
	PublishSignal(s *signal.Signal)
}

// EventPublisher publishes JSON events to the message bus
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// QuoteArchive buffers quotes for batched storage
type QuoteArchive interface {
	Add(ctx context.Context, q market_data.Quote) error
}

// AlertEvent is published when an alert policy matches a feature set
type AlertEvent struct {
	AlertID     uuid.UUID            `json:"alert_id"`
	Symbol      string               `json:"symbol"`
	Description string               `json:"description"`
	Timestamp   time.Time            `json:"ts"`
	Features    market_data.Features `json:"features"`
}

// Config wires the pipeline stages. Broadcaster, Signals, Events and Archive
// are optional sinks.
type Config struct {
	Extractor   *features.Extractor
	Engine      *signals.Engine
	Policies    *signals.PolicyBook
	Broadcaster Broadcaster
	Signals     signal.Repository
	Events      EventPublisher
	Archive     QuoteArchive
}

// Pipeline is the direct call chain quote -> extractor -> engine -> sinks.
// Append, evict, extract, evaluate and the cooldown update run atomically
// per symbol; sink delivery happens after the symbol lock is released.
type Pipeline struct {
	symbols     *IngestionContext
	extractor   *features.Extractor
	engine      *signals.Engine
	policies    *signals.PolicyBook
	broadcaster Broadcaster
	signals     signal.Repository
	events      EventPublisher
	archive     QuoteArchive
	log         *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Pipeline {
	if cfg.Extractor == nil {
		cfg.Extractor = features.NewExtractor(features.DefaultWindow, features.DefaultSentimentCapacity)
	}
	if cfg.Engine == nil {
		cfg.Engine = signals.NewEngine(signals.DefaultConfig())
	}
	if cfg.Policies == nil {
		cfg.Policies = signals.NewPolicyBook()
	}

	return &Pipeline{
		symbols:     NewIngestionContext(cfg.Extractor),
		extractor:   cfg.Extractor,
		engine:      cfg.Engine,
		policies:    cfg.Policies,
		broadcaster: cfg.Broadcaster,
		signals:     cfg.Signals,
		events:      cfg.Events,
		archive:     cfg.Archive,
		log:         log.With("component", "pipeline"),
	}
}

// evaluation is the outcome of the locked section for one quote
type evaluation struct {
	features *market_data.Features
	signal   *signal.Signal
	alerts   []signal.Alert
}

// HandleQuote runs one canonical quote through the chain
func (p *Pipeline) HandleQuote(ctx context.Context, q *market_data.Quote) {
	if q == nil || q.Symbol == "" {
		return
	}

	if p.broadcaster != nil {
		p.broadcaster.PublishQuote(q)
	}
	p.archiveQuote(ctx, q)
	p.publish(ctx, kafka.TopicQuotes, q.Symbol, q)

	ev := p.evaluate(q)
	if ev.features == nil {
		return
	}

	if ev.signal != nil {
		p.emitSignal(ctx, ev.signal)
	}
	for _, a := range ev.alerts {
		p.log.Infow("Alert policy matched",
			"alert_id", a.ID,
			"symbol", a.Symbol,
			"description", a.Description,
			"sentiment_z", ev.features.SentimentZ,
			"r_5s", ev.features.R5s,
		)
		p.publish(ctx, kafka.TopicAlerts, a.ID.String(), AlertEvent{
			AlertID:     a.ID,
			Symbol:      a.Symbol,
			Description: a.Description,
			Timestamp:   q.Timestamp,
			Features:    *ev.features,
		})
	}
}

// evaluate is the per-symbol critical section
func (p *Pipeline) evaluate(q *market_data.Quote) evaluation {
	var ev evaluation

	p.symbols.With(q.Symbol, func(h *features.History) {
		start := time.Now()
		h.AddQuote(q)
		ev.features = p.extractor.Extract(h, q)
		metrics.FeatureLatency.WithLabelValues(q.Symbol).Observe(time.Since(start).Seconds())

		if ev.features == nil {
			return
		}
		ev.signal = p.engine.Evaluate(q.Symbol, ev.features, q.Timestamp)
		ev.alerts = p.policies.Match(p.engine, q.Symbol, ev.features)
	})

	return ev
}

// AddSentiment appends a news score to symbol's sentiment history
func (p *Pipeline) AddSentiment(symbol string, score float64) {
	p.symbols.With(symbol, func(h *features.History) {
		h.AddSentiment(score)
	})
}

// Symbols lists the symbols with state
func (p *Pipeline) Symbols() []string {
	return p.symbols.Symbols()
}

// Policies exposes the alert book for registration of new policies
func (p *Pipeline) Policies() *signals.PolicyBook {
	return p.policies
}

func (p *Pipeline) emitSignal(ctx context.Context, s *signal.Signal) {
	p.log.Infow("Signal emitted",
		"symbol", s.Symbol,
		"direction", s.Direction,
		"score", s.Score,
		"trigger", s.Reasons.Trigger,
	)

	if p.broadcaster != nil {
		p.broadcaster.PublishSignal(s)
	}

	if p.signals != nil {
		if err := p.signals.Create(ctx, s); err != nil {
			p.log.Errorw("Failed to persist signal", "symbol", s.Symbol, "signal_id", s.ID, "error", err)
		}
	}

	p.publish(ctx, kafka.TopicSignals, s.Symbol, s)
}

func (p *Pipeline) archiveQuote(ctx context.Context, q *market_data.Quote) {
	if p.archive == nil {
		return
	}
	if err := p.archive.Add(ctx, *q); err != nil {
		p.log.Warnw("Quote archive write failed", "symbol", q.Symbol, "error", err)
	}
}

func (p *Pipeline) publish(ctx context.Context, topic, key string, event interface{}) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, topic, key, event); err != nil {
		p.log.Debugw("Event publish failed", "topic", topic, "key", key, "error", err)
	}
}
