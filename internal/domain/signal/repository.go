package signal

import (
	"context"
)

// Repository persists emitted signals (PostgreSQL)
type Repository interface {
	Create(ctx context.Context, s *Signal) error
	ListRecent(ctx context.Context, limit int) ([]Signal, error)
}

// AlertRepository persists alert policies (PostgreSQL)
type AlertRepository interface {
	Create(ctx context.Context, alert *Alert) error
	ListActive(ctx context.Context) ([]Alert, error)
}
