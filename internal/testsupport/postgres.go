package testsupport

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/adapters/postgres"
)

// NewTestPostgres connects to the POSTGRES_* instance and returns a
// transaction that is rolled back when the test ends, so repositories can
// create their schema and rows without leaving anything behind
func NewTestPostgres(t *testing.T) *sqlx.Tx {
	t.Helper()

	client, err := postgres.NewClient(context.Background(), PostgresFromEnv(t))
	require.NoError(t, err, "postgres unreachable")
	t.Cleanup(func() { _ = client.Close() })

	tx, err := client.DB().BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })

	return tx
}
