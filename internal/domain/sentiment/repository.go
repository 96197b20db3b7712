package sentiment

import (
	"context"
)

// ArticleRepository persists articles (PostgreSQL)
type ArticleRepository interface {
	// Create inserts the article and sets its ID.
	// Returns errors.ErrAlreadyExists when the fingerprint is already stored.
	Create(ctx context.Context, article *Article) error
	GetByFingerprint(ctx context.Context, fingerprint string) (*Article, error)
	ListRecentByTicker(ctx context.Context, ticker string, limit int) ([]Article, error)
}

// Repository persists sentiment scores (PostgreSQL)
type Repository interface {
	Create(ctx context.Context, s *Sentiment) error
	ListByArticle(ctx context.Context, articleID int64) ([]Sentiment, error)
}
