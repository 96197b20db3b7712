package signals

import (
	"context"
	"sync"

	"marketpulse/internal/domain/market_data"
	"marketpulse/internal/domain/signal"
	"marketpulse/internal/metrics"
	"marketpulse/pkg/errors"
)

// PolicyBook keeps the active alert policies indexed by symbol
type PolicyBook struct {
	mu       sync.RWMutex
	bySymbol map[string][]signal.Alert
}

func NewPolicyBook() *PolicyBook {
	return &PolicyBook{bySymbol: make(map[string][]signal.Alert)}
}

// Load replaces the book with the repository's active alerts
func (b *PolicyBook) Load(ctx context.Context, repo signal.AlertRepository) error {
	alerts, err := repo.ListActive(ctx)
	if err != nil {
		return errors.Wrap(err, "list active alerts")
	}

	index := make(map[string][]signal.Alert, len(alerts))
	for _, a := range alerts {
		index[a.Symbol] = append(index[a.Symbol], a)
	}

	b.mu.Lock()
	b.bySymbol = index
	b.mu.Unlock()
	return nil
}

// Add registers an active alert
func (b *PolicyBook) Add(a signal.Alert) {
	if !a.Active {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bySymbol[a.Symbol] = append(b.bySymbol[a.Symbol], a)
}

// Len returns the number of active alerts
func (b *PolicyBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, list := range b.bySymbol {
		n += len(list)
	}
	return n
}

// Match returns the alerts for symbol whose policy fires on f
func (b *PolicyBook) Match(e *Engine, symbol string, f *market_data.Features) []signal.Alert {
	b.mu.RLock()
	candidates := b.bySymbol[symbol]
	b.mu.RUnlock()

	var matched []signal.Alert
	for _, a := range candidates {
		if e.EvaluateAlert(a.AlertPolicy, f) {
			matched = append(matched, a)
		}
	}
	if len(matched) > 0 {
		metrics.AlertsTriggered.WithLabelValues(symbol).Add(float64(len(matched)))
	}
	return matched
}
