package ingest

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"marketpulse/internal/adapters/config"
	"marketpulse/internal/adapters/sources"
	"marketpulse/internal/cache"
	"marketpulse/internal/domain/market_data"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/reconnect"
)

// Supervisor owns one Runner per enabled source. A source that fails never
// affects the others.
type Supervisor struct {
	runners []Runner
	log     *logger.Logger
}

// NewSupervisor wraps already built runners
func NewSupervisor(runners []Runner, log *logger.Logger) (*Supervisor, error) {
	if len(runners) == 0 {
		return nil, errors.ErrNoSources
	}
	return &Supervisor{runners: runners, log: log.With("component", "ingest_supervisor")}, nil
}

// BuildRunners creates a runner per enabled source using the configured mode
func BuildRunners(cfg config.SourcesConfig, c cache.Cache, handler QuoteHandler, clock clockwork.Clock, log *logger.Logger) ([]Runner, error) {
	if len(cfg.Enabled) == 0 {
		return nil, errors.ErrNoSources
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	rc := reconnect.Config{
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		MaxAttempts: cfg.MaxAttempts,
	}
	mode := strings.ToLower(cfg.Mode)
	client := &http.Client{Timeout: cfg.RequestTimeout}

	runners := make([]Runner, 0, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		source := strings.ToLower(strings.TrimSpace(name))
		adapter, err := sources.New(source, clock)
		if err != nil {
			return nil, err
		}

		wsURL, apiURL := endpoints(cfg, source)

		switch mode {
		case ModeREST:
			runners = append(runners, NewPoller(PollerConfig{
				BaseURL:        apiURL,
				Symbols:        cfg.Symbols,
				Adapter:        adapter,
				Client:         client,
				Cache:          c,
				Handler:        handler,
				Reconnect:      rc,
				Clock:          clock,
				Interval:       cfg.PollInterval,
				CacheTTL:       cfg.PollCacheTTL,
				RequestTimeout: cfg.RequestTimeout,
				RateLimit:      cfg.RateLimit,
			}, log))
		default:
			runners = append(runners, NewSourceManager(SourceManagerConfig{
				URL:       wsURL,
				Symbols:   cfg.Symbols,
				Adapter:   adapter,
				Dialer:    NewWSDialer(cfg.ReadTimeout),
				Handler:   handler,
				Reconnect: rc,
				Clock:     clock,
			}, log))
		}
	}

	return runners, nil
}

func endpoints(cfg config.SourcesConfig, source string) (ws, api string) {
	switch source {
	case market_data.SourceCoinbase:
		return cfg.CoinbaseWS, cfg.CoinbaseAPI
	case market_data.SourceBinance:
		return cfg.BinanceWS, cfg.BinanceAPI
	}
	return "", ""
}

// Start starts every runner
func (s *Supervisor) Start(ctx context.Context) error {
	for _, r := range s.runners {
		if err := r.Start(ctx); err != nil {
			return errors.Wrapf(err, "start source %s", r.Source())
		}
	}
	s.log.Infow("Sources started", "count", len(s.runners))
	return nil
}

// Stop stops all runners in parallel and collects their errors
func (s *Supervisor) Stop() error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs errors.MultiError
	)

	for _, r := range s.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			if err := r.Stop(); err != nil {
				mu.Lock()
				errs.Add(err)
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()

	return errs.ToError()
}

// Statuses reports every source's connection state
func (s *Supervisor) Statuses() []Status {
	out := make([]Status, 0, len(s.runners))
	for _, r := range s.runners {
		out = append(out, r.Status())
	}
	return out
}

// Healthy reports whether at least one source is still live
func (s *Supervisor) Healthy() bool {
	for _, r := range s.runners {
		switch r.Status().State {
		case StateFailed, StateStopped:
			continue
		default:
			return true
		}
	}
	return false
}
