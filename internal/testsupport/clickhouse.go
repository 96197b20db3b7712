package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketpulse/internal/adapters/clickhouse"
)

// NewTestClickHouse connects to the CLICKHOUSE_* instance for the test
func NewTestClickHouse(t *testing.T) *clickhouse.Client {
	t.Helper()

	cfg := ClickHouseFromEnv(t)
	client, err := clickhouse.NewClient(context.Background(), cfg)
	require.NoError(t, err, "clickhouse unreachable")
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// TempTable returns a table name unique to this run and drops the table when
// the test ends. Creating it is left to the repository under test.
func TempTable(t *testing.T, client *clickhouse.Client, prefix string) string {
	t.Helper()

	table := fmt.Sprintf("%s_test_%d", prefix, time.Now().UnixNano())
	t.Cleanup(func() {
		_ = client.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
	})
	return table
}
