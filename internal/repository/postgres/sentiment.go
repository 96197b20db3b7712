package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"marketpulse/internal/domain/sentiment"
	"marketpulse/pkg/errors"
)

var _ sentiment.Repository = (*SentimentRepository)(nil)

// SentimentRepository implements sentiment.Repository using sqlx
type SentimentRepository struct {
	db DBTX
}

func NewSentimentRepository(db DBTX) *SentimentRepository {
	return &SentimentRepository{db: db}
}

// Create inserts a sentiment row, assigning ID and ingestion time when unset
func (r *SentimentRepository) Create(ctx context.Context, s *sentiment.Sentiment) (err error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.IngestedAt.IsZero() {
		s.IngestedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	start := time.Now()
	defer func() { observe("insert_sentiment", start, err) }()

	query := `
		INSERT INTO sentiments (id, article_id, model, score, confidence, tokens, ts_ingested)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.ExecContext(ctx, query,
		s.ID, s.ArticleID, s.Model, s.Score, s.Confidence, jsonParam(s.Tokens), s.IngestedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert sentiment")
	}
	return nil
}

// ListByArticle returns the scores recorded for an article, oldest first
func (r *SentimentRepository) ListByArticle(ctx context.Context, articleID int64) ([]sentiment.Sentiment, error) {
	var out []sentiment.Sentiment

	query := `
		SELECT id, article_id, model, score, confidence, tokens, ts_ingested
		FROM sentiments
		WHERE article_id = $1
		ORDER BY ts_ingested ASC`

	start := time.Now()
	err := r.db.SelectContext(ctx, &out, query, articleID)
	observe("list_sentiments", start, err)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sentiments")
	}
	return out, nil
}
