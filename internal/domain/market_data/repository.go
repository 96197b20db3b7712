package market_data

import (
	"context"
)

// Repository archives canonical quotes (ClickHouse)
type Repository interface {
	InsertQuotes(ctx context.Context, quotes []Quote) error
	GetLatestQuotes(ctx context.Context, symbol string, limit int) ([]Quote, error)
}
