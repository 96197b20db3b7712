package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"marketpulse/internal/adapters/sources"
	"marketpulse/internal/cache"
	"marketpulse/internal/domain/market_data"
	"marketpulse/internal/metrics"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/reconnect"
)

const maxTickerBody = 1 << 20

// Poller ingests a request/response source by polling each symbol's ticker
// on its own fixed interval, measured from the start of the previous poll,
// so a slow symbol never delays the others. Fetched tickers are cached under
// ticker:{source}:{symbol} and a cached entry younger than the interval is
// served instead of calling upstream. Once every symbol has failed since the
// last success, polling pauses for the reconnect backoff; the source is
// parked in failed once the budget is spent.
type Poller struct {
	baseURL        string
	symbols        []string
	adapter        sources.Adapter
	client         *http.Client
	cache          cache.Cache
	limiter        *rate.Limiter
	handler        QuoteHandler
	backoff        *reconnect.Backoff
	clock          clockwork.Clock
	interval       time.Duration
	cacheTTL       time.Duration
	requestTimeout time.Duration
	log            *logger.Logger

	mu          sync.Mutex
	state       State
	since       time.Time
	lastErr     error
	lastEmitted map[string]time.Time
	failing     map[string]bool
	resumeAt    time.Time
	cancel      context.CancelFunc
	stopped     bool
	wg          sync.WaitGroup
}

var _ Runner = (*Poller)(nil)

// PollerConfig configures a Poller
type PollerConfig struct {
	BaseURL        string
	Symbols        []string
	Adapter        sources.Adapter
	Client         *http.Client
	Cache          cache.Cache
	Handler        QuoteHandler
	Reconnect      reconnect.Config
	Clock          clockwork.Clock
	Interval       time.Duration // default 2s
	CacheTTL       time.Duration // default 60s
	RequestTimeout time.Duration // default 5s
	RateLimit      float64       // requests per second, default 10
}

func NewPoller(cfg PollerConfig, log *logger.Logger) *Poller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemoryCache(cfg.Clock)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}

	p := &Poller{
		baseURL:        cfg.BaseURL,
		symbols:        cfg.Symbols,
		adapter:        cfg.Adapter,
		client:         cfg.Client,
		cache:          cfg.Cache,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimit), len(cfg.Symbols)+1),
		handler:        cfg.Handler,
		backoff:        reconnect.NewBackoff(cfg.Reconnect),
		clock:          cfg.Clock,
		interval:       cfg.Interval,
		cacheTTL:       cfg.CacheTTL,
		requestTimeout: cfg.RequestTimeout,
		log:            log.With("component", "poller", "source", cfg.Adapter.Source()),
		state:          StateDisconnected,
		since:          cfg.Clock.Now(),
		lastEmitted:    make(map[string]time.Time),
		failing:        make(map[string]bool),
	}
	metrics.RecordSourceState(p.Source(), string(StateDisconnected), allStates)
	return p
}

func (p *Poller) Source() string {
	return p.adapter.Source()
}

func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errors.Wrapf(errors.ErrInvalidInput, "source %s already stopped", p.Source())
	}
	if p.cancel != nil {
		return nil
	}

	ctx, p.cancel = context.WithCancel(ctx)
	if len(p.symbols) == 0 {
		p.setStateLocked(StateConnected)
	} else {
		p.setStateLocked(StateConnecting)
	}

	for _, symbol := range p.symbols {
		p.wg.Add(1)
		go func(symbol string) {
			defer p.wg.Done()
			p.loop(ctx, symbol)
		}(symbol)
	}

	p.log.Infow("Polling started", "interval", p.interval, "symbols", p.symbols)
	return nil
}

func (p *Poller) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	p.setStateLocked(StateStopped)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("Polling stopped")
		return nil
	case <-time.After(stopTimeout):
		return errors.Wrapf(errors.ErrTimeout, "source %s shutdown", p.Source())
	}
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.backoff.GetStats()
	st := Status{
		Source:          p.Source(),
		Mode:            ModeREST,
		State:           p.state,
		Attempts:        stats.Attempts,
		TotalReconnects: stats.TotalReconnects,
		Since:           p.since,
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

// loop polls one symbol until ctx ends or the source fails
func (p *Poller) loop(ctx context.Context, symbol string) {
	for {
		start := p.clock.Now()
		wait, ok := p.poll(ctx, symbol)
		if !ok || ctx.Err() != nil {
			return
		}
		if wait == 0 {
			wait = p.interval - p.clock.Since(start)
		}
		if wait <= 0 {
			continue
		}

		timer := p.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
	}
}

// poll fetches symbol once and delivers a new quote. A non-zero wait replaces
// the interval while the source is backing off. ok is false when polling
// must end.
func (p *Poller) poll(ctx context.Context, symbol string) (wait time.Duration, ok bool) {
	if d := p.pausedFor(); d > 0 {
		return d, true
	}

	quote, err := p.fetch(ctx, symbol)
	if ctx.Err() != nil {
		return 0, false
	}
	if err != nil {
		p.log.Warnw("Ticker poll failed", "symbol", symbol, "error", err)
		return p.recordFailure(symbol, err)
	}
	if !p.recordSuccess(symbol) {
		return 0, false
	}
	if quote == nil || !p.markEmitted(quote) {
		return 0, true
	}

	metrics.QuotesReceived.WithLabelValues(p.Source(), quote.Symbol).Inc()
	p.handler.HandleQuote(ctx, quote)
	return 0, true
}

func (p *Poller) pausedFor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumeAt.Sub(p.clock.Now())
}

func (p *Poller) recordSuccess(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}
	delete(p.failing, symbol)
	p.lastErr = nil
	p.backoff.Reset()
	p.setStateLocked(StateConnected)
	return true
}

// recordFailure counts one failed attempt once every symbol has failed since
// the last success or pause
func (p *Poller) recordFailure(symbol string, err error) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return 0, false
	}
	p.lastErr = err
	p.failing[symbol] = true
	if len(p.failing) < len(p.symbols) {
		return 0, true
	}
	p.failing = make(map[string]bool)

	delay, berr := p.backoff.Next()
	if berr != nil {
		p.setStateLocked(StateFailed)
		p.log.Errorw("Source failed, poll budget exhausted", "error", err)
		p.cancel()
		return 0, false
	}

	p.resumeAt = p.clock.Now().Add(delay)
	p.setStateLocked(StateBackoff)
	metrics.SourceReconnects.WithLabelValues(p.Source()).Inc()
	return delay, true
}

// markEmitted records q as delivered and reports false for a repeat of the
// last delivered quote of its symbol
func (p *Poller) markEmitted(q *market_data.Quote) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.lastEmitted[q.Symbol]; ok && last.Equal(q.Timestamp) {
		return false
	}
	p.lastEmitted[q.Symbol] = q.Timestamp
	return true
}

// cachedTicker is the value stored under ticker:{source}:{symbol}
type cachedTicker struct {
	FetchedAt time.Time         `json:"fetched_at"`
	Quote     market_data.Quote `json:"quote"`
}

// fetch returns the symbol's ticker, from cache when it is fresh enough
func (p *Poller) fetch(ctx context.Context, symbol string) (*market_data.Quote, error) {
	key := cache.TickerKey(p.Source(), symbol)

	if q := p.fromCache(ctx, key); q != nil {
		return q, nil
	}

	quote, err := p.request(ctx, symbol)
	if err != nil || quote == nil {
		return nil, err
	}

	payload, err := json.Marshal(cachedTicker{FetchedAt: p.clock.Now(), Quote: *quote})
	if err == nil {
		err = p.cache.Set(ctx, key, payload, p.cacheTTL)
	}
	if err != nil {
		p.log.Warnw("Ticker cache write failed", "key", key, "error", err)
	}

	return quote, nil
}

func (p *Poller) fromCache(ctx context.Context, key string) *market_data.Quote {
	raw, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.log.Warnw("Ticker cache read failed", "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var entry cachedTicker
	if err := json.Unmarshal(raw, &entry); err != nil {
		p.log.Debugw("Discarding malformed ticker cache entry", "key", key, "error", err)
		return nil
	}
	if p.clock.Since(entry.FetchedAt) >= p.interval {
		return nil
	}
	return &entry.Quote
}

func (p *Poller) request(ctx context.Context, symbol string) (*market_data.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}

	url := p.adapter.TickerURL(p.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build ticker request")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		metrics.RecordUpstreamCall(p.Source(), "ticker", time.Since(start), err)
		return nil, errors.Wrap(err, "ticker request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = errors.Wrapf(errors.ErrUpstreamStatus, "ticker %s returned %d", symbol, resp.StatusCode)
		metrics.RecordUpstreamCall(p.Source(), "ticker", time.Since(start), err)
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTickerBody))
	metrics.RecordUpstreamCall(p.Source(), "ticker", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "read ticker body")
	}

	quote := p.adapter.ParseTicker(body, symbol)
	if quote == nil {
		metrics.MessagesDropped.WithLabelValues(p.Source(), "unparseable").Inc()
		p.log.Debugw("Dropped ticker response", "symbol", symbol)
	}
	return quote, nil
}

func (p *Poller) setStateLocked(state State) {
	if p.state == state {
		return
	}
	p.state = state
	p.since = p.clock.Now()
	metrics.RecordSourceState(p.Source(), string(state), allStates)
}
