package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"marketpulse/internal/domain/market_data"
	"marketpulse/internal/domain/signal"
	"marketpulse/internal/metrics"
	"marketpulse/pkg/logger"
)

// Envelope types
const (
	TypeTick   = "tick"
	TypePing   = "ping"
	TypeSignal = "signal"
)

const (
	DefaultPingInterval = 15 * time.Second
	DefaultBufferSize   = 64
)

// Envelope is the JSON payload of one stream message
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Ping is the heartbeat payload
type Ping struct {
	Timestamp time.Time `json:"ts"`
}

// Broadcaster fans quotes, signals and heartbeats out to subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the
// message and nobody else is affected.
type Broadcaster struct {
	clock        clockwork.Clock
	pingInterval time.Duration
	bufferSize   int
	log          *logger.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// Option configures a Broadcaster
type Option func(*Broadcaster)

func WithClock(clock clockwork.Clock) Option {
	return func(b *Broadcaster) { b.clock = clock }
}

func WithPingInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.pingInterval = d
		}
	}
}

func WithBufferSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

func NewBroadcaster(log *logger.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		clock:        clockwork.NewRealClock(),
		pingInterval: DefaultPingInterval,
		bufferSize:   DefaultBufferSize,
		log:          log.With("component", "broadcaster"),
		subs:         make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber for the given canonical symbols and starts
// its heartbeat. The caller must Close the subscription when done.
func (b *Broadcaster) Subscribe(symbols []string) *Subscription {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}

	b.mu.Lock()
	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		symbols: set,
		ch:      make(chan []byte, b.bufferSize),
		done:    make(chan struct{}),
		ticker:  b.clock.NewTicker(b.pingInterval),
		b:       b,
	}
	b.subs[sub.id] = sub
	count := len(b.subs)
	b.mu.Unlock()

	metrics.StreamSubscribers.Set(float64(count))
	go sub.heartbeat()

	b.log.Debugw("Subscriber added", "id", sub.id, "symbols", symbols)
	return sub
}

// PublishQuote sends a tick envelope to subscribers of the quote's symbol
func (b *Broadcaster) PublishQuote(q *market_data.Quote) {
	if q == nil {
		return
	}
	b.publish(q.Symbol, Envelope{Type: TypeTick, Data: q})
}

// PublishSignal sends a signal envelope to subscribers of the signal's symbol
func (b *Broadcaster) PublishSignal(s *signal.Signal) {
	if s == nil {
		return
	}
	b.publish(s.Symbol, Envelope{Type: TypeSignal, Data: s})
}

func (b *Broadcaster) publish(symbol string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		b.log.Errorw("Failed to encode stream envelope", "type", env.Type, "error", err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.wants(symbol) {
			continue
		}
		sub.deliver(env.Type, payload)
	}
}

// Count returns the number of live subscribers
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close tears down every subscriber
func (b *Broadcaster) Close() {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.Close()
	}
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	count := len(b.subs)
	b.mu.Unlock()

	metrics.StreamSubscribers.Set(float64(count))
}

// Subscription is one subscriber's view of the stream
type Subscription struct {
	id      uint64
	symbols map[string]struct{}
	ch      chan []byte
	done    chan struct{}
	ticker  clockwork.Ticker
	once    sync.Once
	b       *Broadcaster
}

// Messages yields encoded envelopes
func (s *Subscription) Messages() <-chan []byte {
	return s.ch
}

// Done is closed once the subscription is torn down
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes and stops the heartbeat. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
		s.b.remove(s.id)
		s.b.log.Debugw("Subscriber removed", "id", s.id)
	})
}

func (s *Subscription) wants(symbol string) bool {
	_, ok := s.symbols[symbol]
	return ok
}

func (s *Subscription) deliver(typ string, payload []byte) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.ch <- payload:
	default:
		metrics.StreamDropped.WithLabelValues(typ).Inc()
	}
}

func (s *Subscription) heartbeat() {
	for {
		select {
		case <-s.done:
			return
		case now := <-s.ticker.Chan():
			payload, err := json.Marshal(Envelope{Type: TypePing, Data: Ping{Timestamp: now.UTC()}})
			if err != nil {
				continue
			}
			s.deliver(TypePing, payload)
		}
	}
}
