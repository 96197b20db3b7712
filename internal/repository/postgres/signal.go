package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"marketpulse/internal/domain/signal"
	"marketpulse/pkg/errors"
)

var (
	_ signal.Repository      = (*SignalRepository)(nil)
	_ signal.AlertRepository = (*AlertRepository)(nil)
)

// SignalRepository implements signal.Repository using sqlx
type SignalRepository struct {
	db DBTX
}

func NewSignalRepository(db DBTX) *SignalRepository {
	return &SignalRepository{db: db}
}

// Create inserts an emitted signal
func (r *SignalRepository) Create(ctx context.Context, s *signal.Signal) (err error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	start := time.Now()
	defer func() { observe("insert_signal", start, err) }()

	query := `
		INSERT INTO signals (id, ts, symbol, direction, score, reasons)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.ExecContext(ctx, query, s.ID, s.Timestamp, s.Symbol, s.Direction, s.Score, s.Reasons)
	if err != nil {
		return errors.Wrap(err, "failed to insert signal")
	}
	return nil
}

// ListRecent returns the newest signals first
func (r *SignalRepository) ListRecent(ctx context.Context, limit int) ([]signal.Signal, error) {
	if limit <= 0 {
		return nil, errors.NewValidationError("limit", "must be positive", limit)
	}

	var out []signal.Signal

	query := `
		SELECT id, ts, symbol, direction, score, reasons
		FROM signals
		ORDER BY ts DESC
		LIMIT $1`

	start := time.Now()
	err := r.db.SelectContext(ctx, &out, query, limit)
	observe("list_signals", start, err)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list signals")
	}
	return out, nil
}

// AlertRepository implements signal.AlertRepository using sqlx
type AlertRepository struct {
	db DBTX
}

func NewAlertRepository(db DBTX) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create stores a policy, assigning ID and creation time when unset
func (r *AlertRepository) Create(ctx context.Context, a *signal.Alert) (err error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	start := time.Now()
	defer func() { observe("insert_alert", start, err) }()

	query := `
		INSERT INTO alerts (
			id, symbol, sentiment_threshold, momentum_threshold,
			volatility_min, volatility_max, cooldown_minutes, description,
			active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.Symbol, a.SentimentThreshold, a.MomentumThreshold,
		a.VolatilityMin, a.VolatilityMax, a.CooldownMinutes, a.Description,
		a.Active, a.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert alert")
	}
	return nil
}

// ListActive returns active policies, oldest first
func (r *AlertRepository) ListActive(ctx context.Context) ([]signal.Alert, error) {
	var out []signal.Alert

	query := `
		SELECT
			id, symbol, sentiment_threshold, momentum_threshold,
			volatility_min, volatility_max, cooldown_minutes, description,
			active, created_at
		FROM alerts
		WHERE active
		ORDER BY created_at ASC`

	start := time.Now()
	err := r.db.SelectContext(ctx, &out, query)
	observe("list_alerts", start, err)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list alerts")
	}
	return out, nil
}
