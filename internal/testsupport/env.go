package testsupport

import (
	"os"
	"testing"

	"github.com/kelseyhightower/envconfig"

	"marketpulse/internal/adapters/config"
)

// fromEnv fills section from the same variables the service reads. The test
// is skipped unless gate is set, so each store opts in separately.
func fromEnv(t *testing.T, gate string, section interface{}) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv(gate) == "" {
		t.Skipf("%s not set, skipping integration test", gate)
	}
	if err := envconfig.Process("", section); err != nil {
		t.Skipf("incomplete integration environment: %v", err)
	}
}

// PostgresFromEnv reads the POSTGRES_* section, gated on POSTGRES_HOST
func PostgresFromEnv(t *testing.T) config.PostgresConfig {
	t.Helper()
	var cfg config.PostgresConfig
	fromEnv(t, "POSTGRES_HOST", &cfg)
	return cfg
}

// ClickHouseFromEnv reads the CLICKHOUSE_* section, gated on CLICKHOUSE_HOST
func ClickHouseFromEnv(t *testing.T) config.ClickHouseConfig {
	t.Helper()
	var cfg config.ClickHouseConfig
	fromEnv(t, "CLICKHOUSE_HOST", &cfg)
	return cfg
}

// RedisFromEnv reads the REDIS_* section, gated on REDIS_HOST
func RedisFromEnv(t *testing.T) config.RedisConfig {
	t.Helper()
	var cfg config.RedisConfig
	fromEnv(t, "REDIS_HOST", &cfg)
	return cfg
}
