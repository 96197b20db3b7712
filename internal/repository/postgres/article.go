package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"marketpulse/internal/domain/sentiment"
	"marketpulse/pkg/errors"
)

var _ sentiment.ArticleRepository = (*ArticleRepository)(nil)

// ArticleRepository implements sentiment.ArticleRepository using sqlx
type ArticleRepository struct {
	db DBTX
}

func NewArticleRepository(db DBTX) *ArticleRepository {
	return &ArticleRepository{db: db}
}

const articleColumns = `id, fingerprint, url, title, ts_publish, source, tickers, lang, raw, created_at`

func scanArticle(row interface {
	Scan(dest ...interface{}) error
}) (*sentiment.Article, error) {
	a := &sentiment.Article{}
	var raw []byte

	err := row.Scan(
		&a.ID, &a.Fingerprint, &a.URL, &a.Title, &a.PublishedAt,
		&a.Source, pq.Array(&a.Tickers), &a.Lang, &raw, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Raw = raw
	return a, nil
}

// Create inserts the article and fills ID and CreatedAt.
// A fingerprint conflict returns errors.ErrAlreadyExists.
func (r *ArticleRepository) Create(ctx context.Context, article *sentiment.Article) (err error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	start := time.Now()
	defer func() { observe("insert_article", start, err) }()

	query := `
		INSERT INTO articles (fingerprint, url, title, ts_publish, source, tickers, lang, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err = r.db.QueryRowContext(ctx, query,
		article.Fingerprint, article.URL, article.Title, article.PublishedAt,
		article.Source, pq.Array(article.Tickers), article.Lang, jsonParam(article.Raw),
	).Scan(&article.ID, &article.CreatedAt)

	if isUniqueViolation(err) {
		return errors.Wrapf(errors.ErrAlreadyExists, "article %s", article.Fingerprint)
	}
	if err != nil {
		return errors.Wrap(err, "failed to insert article")
	}
	return nil
}

// GetByFingerprint returns errors.ErrNotFound when no article matches
func (r *ArticleRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*sentiment.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE fingerprint = $1`

	start := time.Now()
	a, err := scanArticle(r.db.QueryRowContext(ctx, query, fingerprint))
	observe("get_article", start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "article %s", fingerprint)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get article")
	}
	return a, nil
}

// ListRecentByTicker returns the newest articles tagged with ticker
func (r *ArticleRepository) ListRecentByTicker(ctx context.Context, ticker string, limit int) ([]sentiment.Article, error) {
	if limit <= 0 {
		return nil, errors.NewValidationError("limit", "must be positive", limit)
	}

	query := `
		SELECT ` + articleColumns + `
		FROM articles
		WHERE $1 = ANY(tickers)
		ORDER BY ts_publish DESC, id DESC
		LIMIT $2`

	start := time.Now()
	rows, err := r.db.QueryContext(ctx, query, ticker, limit)
	if err != nil {
		observe("list_articles", start, err)
		return nil, errors.Wrap(err, "failed to list articles")
	}
	defer rows.Close()

	articles := make([]sentiment.Article, 0, limit)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			observe("list_articles", start, err)
			return nil, errors.Wrap(err, "failed to scan article")
		}
		articles = append(articles, *a)
	}

	err = rows.Err()
	observe("list_articles", start, err)
	if err != nil {
		return nil, errors.Wrap(err, "failed to iterate articles")
	}
	return articles, nil
}
