package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"marketpulse/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	ErrorTracking ErrorTrackingConfig
	Sources       SourcesConfig
	Features      FeaturesConfig
	Signals       SignalsConfig
	Stream        StreamConfig
	News          NewsConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"marketpulse"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type HTTPConfig struct {
	Port            int           `envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	IdleTimeout     time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"5s"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=5",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Enabled       bool          `envconfig:"CLICKHOUSE_ENABLED" default:"true"`
	Host          string        `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port          int           `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User          string        `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password      string        `envconfig:"CLICKHOUSE_PASSWORD"`
	Database      string        `envconfig:"CLICKHOUSE_DB" default:"marketpulse"`
	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"500"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"5s"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled      bool          `envconfig:"KAFKA_ENABLED" default:"true"`
	Brokers      []string      `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Async        bool          `envconfig:"KAFKA_ASYNC" default:"true"`
	WriteTimeout time.Duration `envconfig:"KAFKA_WRITE_TIMEOUT" default:"5s"`
	Encoding     string        `envconfig:"KAFKA_ENCODING" default:"json"`
}

type ErrorTrackingConfig struct {
	Enabled     bool    `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string  `envconfig:"SENTRY_DSN"`
	Environment string  `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
	SampleRate  float64 `envconfig:"SENTRY_SAMPLE_RATE" default:"1.0"`
}

// SourcesConfig controls upstream quote connections.
// Mode is "ws" (push) or "rest" (polling) and applies to every enabled source.
type SourcesConfig struct {
	Enabled     []string      `envconfig:"SOURCES_ENABLED" default:"coinbase,binance"`
	Mode        string        `envconfig:"SOURCES_MODE" default:"ws"`
	Symbols     []string      `envconfig:"SOURCES_SYMBOLS" default:"BTC-USDT,ETH-USDT,SOL-USDT"`
	CoinbaseWS  string        `envconfig:"SOURCES_COINBASE_WS_URL" default:"wss://ws-feed.exchange.coinbase.com"`
	CoinbaseAPI string        `envconfig:"SOURCES_COINBASE_API_URL" default:"https://api.exchange.coinbase.com"`
	BinanceWS   string        `envconfig:"SOURCES_BINANCE_WS_URL" default:"wss://stream.binance.com:9443/ws"`
	BinanceAPI  string        `envconfig:"SOURCES_BINANCE_API_URL" default:"https://api.binance.com"`
	BaseDelay   time.Duration `envconfig:"SOURCES_RECONNECT_BASE_DELAY" default:"1s"`
	MaxDelay    time.Duration `envconfig:"SOURCES_RECONNECT_MAX_DELAY" default:"1m"`
	MaxAttempts int           `envconfig:"SOURCES_RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReadTimeout time.Duration `envconfig:"SOURCES_READ_TIMEOUT" default:"30s"`

	PollInterval   time.Duration `envconfig:"SOURCES_POLL_INTERVAL" default:"2s"`
	PollCacheTTL   time.Duration `envconfig:"SOURCES_POLL_CACHE_TTL" default:"60s"`
	RequestTimeout time.Duration `envconfig:"SOURCES_REQUEST_TIMEOUT" default:"5s"`
	RateLimit      float64       `envconfig:"SOURCES_RATE_LIMIT" default:"10"`
}

type FeaturesConfig struct {
	HistoryWindow     time.Duration `envconfig:"FEATURES_HISTORY_WINDOW" default:"60s"`
	SentimentCapacity int           `envconfig:"FEATURES_SENTIMENT_CAPACITY" default:"100"`
}

type SignalsConfig struct {
	SentimentThreshold   float64       `envconfig:"SIGNALS_SENTIMENT_THRESHOLD" default:"1.5"`
	MomentumThreshold    float64       `envconfig:"SIGNALS_MOMENTUM_THRESHOLD" default:"0.001"`
	VolatilityMin        float64       `envconfig:"SIGNALS_VOLATILITY_MIN" default:"0.0001"`
	VolatilityMax        float64       `envconfig:"SIGNALS_VOLATILITY_MAX" default:"0.05"`
	Cooldown             time.Duration `envconfig:"SIGNALS_COOLDOWN" default:"5m"`
	EnableRiskAdjustment bool          `envconfig:"SIGNALS_ENABLE_RISK_ADJUSTMENT" default:"false"`
	EnableMultiTimeframe bool          `envconfig:"SIGNALS_ENABLE_MULTI_TIMEFRAME" default:"false"`
}

type StreamConfig struct {
	PingInterval   time.Duration `envconfig:"STREAM_PING_INTERVAL" default:"15s"`
	BufferSize     int           `envconfig:"STREAM_BUFFER_SIZE" default:"64"`
	DefaultSymbols string        `envconfig:"STREAM_DEFAULT_SYMBOLS" default:"BTC-USDT|ETH-USDT|SOL-USDT"`
}

type NewsConfig struct {
	Enabled        bool          `envconfig:"NEWS_ENABLED" default:"true"`
	Interval       time.Duration `envconfig:"NEWS_INTERVAL" default:"15m"`
	Lookback       time.Duration `envconfig:"NEWS_LOOKBACK" default:"15m"`
	Keywords       []string      `envconfig:"NEWS_KEYWORDS" default:"BTC,ETH,SOL,Bitcoin,Ethereum,Solana"`
	GDELTURL       string        `envconfig:"NEWS_GDELT_URL" default:"https://api.gdeltproject.org/api/v2/doc/doc"`
	MaxRecords     int           `envconfig:"NEWS_MAX_RECORDS" default:"50"`
	RequestTimeout time.Duration `envconfig:"NEWS_REQUEST_TIMEOUT" default:"10s"`
	FingerprintTTL time.Duration `envconfig:"NEWS_FINGERPRINT_TTL" default:"24h"`
	ONNXModelPath  string        `envconfig:"NEWS_ONNX_MODEL_PATH"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot start with
func (c *Config) Validate() error {
	if len(c.Sources.Enabled) == 0 {
		return errors.ErrNoSources
	}

	mode := strings.ToLower(c.Sources.Mode)
	if mode != "ws" && mode != "rest" {
		return errors.NewValidationError("SOURCES_MODE", "must be ws or rest", c.Sources.Mode)
	}

	if c.Signals.VolatilityMin > c.Signals.VolatilityMax {
		return errors.NewValidationError("SIGNALS_VOLATILITY_MIN", "must not exceed SIGNALS_VOLATILITY_MAX", c.Signals.VolatilityMin)
	}

	if c.Sources.MaxAttempts <= 0 {
		return errors.NewValidationError("SOURCES_RECONNECT_MAX_ATTEMPTS", "must be positive", c.Sources.MaxAttempts)
	}

	if c.Kafka.Encoding != "json" && c.Kafka.Encoding != "protobuf" {
		return errors.NewValidationError("KAFKA_ENCODING", "must be json or protobuf", c.Kafka.Encoding)
	}

	return nil
}
