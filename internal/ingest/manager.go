package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"marketpulse/internal/adapters/sources"
	"marketpulse/internal/metrics"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/reconnect"
)

const stopTimeout = 10 * time.Second

// SourceManager owns the push connection of one upstream source.
//
// disconnected -> connecting -> connected -> (failure) backoff -> connecting
//
// After the reconnect budget is spent the manager parks in failed. Stop moves
// it to stopped from any state; no handler call happens after Stop returns.
type SourceManager struct {
	url     string
	symbols []string
	adapter sources.Adapter
	dialer  Dialer
	handler QuoteHandler
	backoff *reconnect.Backoff
	clock   clockwork.Clock
	log     *logger.Logger

	mu      sync.Mutex
	state   State
	since   time.Time
	lastErr error
	conn    Conn
	timer   clockwork.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

var _ Runner = (*SourceManager)(nil)

// SourceManagerConfig configures a SourceManager
type SourceManagerConfig struct {
	URL       string
	Symbols   []string
	Adapter   sources.Adapter
	Dialer    Dialer
	Handler   QuoteHandler
	Reconnect reconnect.Config
	Clock     clockwork.Clock
}

func NewSourceManager(cfg SourceManagerConfig, log *logger.Logger) *SourceManager {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	m := &SourceManager{
		url:     cfg.URL,
		symbols: cfg.Symbols,
		adapter: cfg.Adapter,
		dialer:  cfg.Dialer,
		handler: cfg.Handler,
		backoff: reconnect.NewBackoff(cfg.Reconnect),
		clock:   clock,
		log:     log.With("component", "source_manager", "source", cfg.Adapter.Source()),
		state:   StateDisconnected,
		since:   clock.Now(),
	}
	metrics.RecordSourceState(m.Source(), string(StateDisconnected), allStates)
	return m
}

func (m *SourceManager) Source() string {
	return m.adapter.Source()
}

// Start launches the first connection attempt in the background
func (m *SourceManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return errors.Wrapf(errors.ErrInvalidInput, "source %s already stopped", m.Source())
	}
	if m.cancel != nil {
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run()
	}()

	return nil
}

// Stop closes the connection, cancels any pending reconnect and waits for the
// connection goroutine to exit
func (m *SourceManager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true

	if m.cancel != nil {
		m.cancel()
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.setStateLocked(StateStopped)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("Source stopped")
		return nil
	case <-time.After(stopTimeout):
		return errors.Wrapf(errors.ErrTimeout, "source %s shutdown", m.Source())
	}
}

func (m *SourceManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.backoff.GetStats()
	st := Status{
		Source:          m.Source(),
		Mode:            ModeWS,
		State:           m.state,
		Attempts:        stats.Attempts,
		TotalReconnects: stats.TotalReconnects,
		Since:           m.since,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// State returns the current connection state
func (m *SourceManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// run performs one connect-subscribe-read cycle and schedules the next one on failure
func (m *SourceManager) run() {
	if !m.transition(StateConnecting) {
		return
	}

	conn, err := m.dialer.Dial(m.ctx, m.url)
	if err != nil {
		m.fail(errors.Wrap(err, "connect"))
		return
	}

	if err := m.subscribe(conn); err != nil {
		_ = conn.Close()
		m.fail(err)
		return
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.lastErr = nil
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.log.Infow("Source connected", "url", m.url, "symbols", m.symbols)

	err = m.readLoop(conn)

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()

	if m.ctx.Err() != nil {
		return
	}
	m.fail(errors.Wrap(err, "read"))
}

func (m *SourceManager) subscribe(conn Conn) error {
	frame, err := m.adapter.SubscribeMessage(m.symbols)
	if err != nil {
		return errors.Wrap(err, "build subscription")
	}
	if len(frame) == 0 {
		return nil
	}
	if err := conn.WriteMessage(frame); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	return nil
}

// readLoop forwards quotes until conn fails. The reconnect budget is restored
// only once the connection delivers a quote, so an upstream that accepts and
// drops straight away still ends in failed.
func (m *SourceManager) readLoop(conn Conn) error {
	delivered := false
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if m.ctx.Err() != nil {
			return m.ctx.Err()
		}

		quote := m.adapter.Parse(raw)
		if quote == nil {
			metrics.MessagesDropped.WithLabelValues(m.Source(), "unparseable").Inc()
			m.log.Debugw("Dropped upstream message", "size", len(raw))
			continue
		}

		if !delivered {
			delivered = true
			m.backoff.Reset()
		}

		metrics.QuotesReceived.WithLabelValues(m.Source(), quote.Symbol).Inc()
		m.handler.HandleQuote(m.ctx, quote)
	}
}

// fail records err and either schedules a reconnect or parks the source in failed
func (m *SourceManager) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.lastErr = err

	delay, berr := m.backoff.Next()
	if berr != nil {
		m.setStateLocked(StateFailed)
		m.log.Errorw("Source failed, reconnect budget exhausted",
			"attempts", m.backoff.Attempts(),
			"error", err,
		)
		return
	}

	m.setStateLocked(StateBackoff)
	metrics.SourceReconnects.WithLabelValues(m.Source()).Inc()
	m.log.Warnw("Source disconnected, scheduling reconnect",
		"attempt", m.backoff.Attempts(),
		"delay", delay,
		"error", err,
	)

	m.timer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.wg.Add(1)
		m.mu.Unlock()

		defer m.wg.Done()
		m.run()
	})
}

// transition moves to state unless the manager was stopped
func (m *SourceManager) transition(state State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return false
	}
	m.setStateLocked(state)
	return true
}

func (m *SourceManager) setStateLocked(state State) {
	if m.state == state {
		return
	}
	m.state = state
	m.since = m.clock.Now()
	metrics.RecordSourceState(m.Source(), string(state), allStates)
}
