package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"time"

	"github.com/lib/pq"

	"marketpulse/internal/metrics"
	"marketpulse/pkg/errors"
)

// DBTX is a common interface for *sqlx.DB and *sqlx.Tx
// so repositories run inside rolled-back transactions in tests
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row

	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// writeTimeout bounds every insert
const writeTimeout = 5 * time.Second

// uniqueViolation is the SQLSTATE for unique constraint conflicts
const uniqueViolation = "23505"

//go:embed schema.sql
var schema string

// EnsureSchema creates the tables used by the repositories
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply postgres schema")
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint conflict
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// observe records the outcome of one query
func observe(operation string, start time.Time, err error) {
	metrics.RecordDBQuery("postgres", operation, time.Since(start), err)
}

// jsonParam passes raw JSON as text so it binds to JSONB columns.
// Empty input is stored as an empty object.
func jsonParam(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
