package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"marketpulse/internal/domain/market_data"
	"marketpulse/internal/metrics"
	"marketpulse/pkg/errors"
)

// DefaultQuotesTable is the archive table for canonical quotes
const DefaultQuotesTable = "quotes"

// QuoteColumns is the column list of the quote archive
const QuoteColumns = `
	ts         DateTime64(3, 'UTC'),
	exchange   LowCardinality(String),
	symbol     LowCardinality(String),
	last       Nullable(Decimal(38, 10)),
	bid        Nullable(Decimal(38, 10)),
	ask        Nullable(Decimal(38, 10)),
	bid_size   Nullable(Decimal(38, 10)),
	ask_size   Nullable(Decimal(38, 10)),
	trade_size Nullable(Decimal(38, 10))`

var _ market_data.Repository = (*QuoteRepository)(nil)

// QuoteRepository archives canonical quotes in ClickHouse
type QuoteRepository struct {
	conn  driver.Conn
	table string
}

func NewQuoteRepository(conn driver.Conn, table string) *QuoteRepository {
	if table == "" {
		table = DefaultQuotesTable
	}
	return &QuoteRepository{conn: conn, table: table}
}

// EnsureSchema creates the archive table when it does not exist
func (r *QuoteRepository) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (%s
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMMDD(ts)
		ORDER BY (symbol, exchange, ts)
		TTL toDateTime(ts) + INTERVAL 30 DAY`, r.table, QuoteColumns)

	if err := r.conn.Exec(ctx, ddl); err != nil {
		return errors.Wrapf(err, "create table %s", r.table)
	}
	return nil
}

// quoteRow is the ClickHouse representation of a quote.
// Prices are stored as exact decimals.
type quoteRow struct {
	Timestamp time.Time        `ch:"ts"`
	Exchange  string           `ch:"exchange"`
	Symbol    string           `ch:"symbol"`
	Last      *decimal.Decimal `ch:"last"`
	Bid       *decimal.Decimal `ch:"bid"`
	Ask       *decimal.Decimal `ch:"ask"`
	BidSize   *decimal.Decimal `ch:"bid_size"`
	AskSize   *decimal.Decimal `ch:"ask_size"`
	TradeSize *decimal.Decimal `ch:"trade_size"`
}

func toDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

func fromDecimal(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return &f
}

func (row quoteRow) quote() market_data.Quote {
	return market_data.Quote{
		Timestamp: row.Timestamp.UTC(),
		Exchange:  row.Exchange,
		Symbol:    row.Symbol,
		Last:      fromDecimal(row.Last),
		Bid:       fromDecimal(row.Bid),
		Ask:       fromDecimal(row.Ask),
		BidSize:   fromDecimal(row.BidSize),
		AskSize:   fromDecimal(row.AskSize),
		TradeSize: fromDecimal(row.TradeSize),
	}
}

// InsertQuotes appends quotes in one native batch
func (r *QuoteRepository) InsertQuotes(ctx context.Context, quotes []market_data.Quote) (err error) {
	if len(quotes) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.RecordDBQuery("clickhouse", "insert_quotes", time.Since(start), err)
	}()

	batch, err := r.conn.PrepareBatch(ctx, fmt.Sprintf(`
		INSERT INTO %s (ts, exchange, symbol, last, bid, ask, bid_size, ask_size, trade_size)
	`, r.table))
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}

	for _, q := range quotes {
		err = batch.Append(
			q.Timestamp, q.Exchange, q.Symbol,
			toDecimal(q.Last), toDecimal(q.Bid), toDecimal(q.Ask),
			toDecimal(q.BidSize), toDecimal(q.AskSize), toDecimal(q.TradeSize),
		)
		if err != nil {
			_ = batch.Abort()
			return errors.Wrap(err, "failed to append quote")
		}
	}

	if err = batch.Send(); err != nil {
		return errors.Wrap(err, "failed to send batch")
	}
	return nil
}

// GetLatestQuotes returns the newest quotes of symbol, newest first
func (r *QuoteRepository) GetLatestQuotes(ctx context.Context, symbol string, limit int) ([]market_data.Quote, error) {
	var rows []quoteRow

	query := fmt.Sprintf(`
		SELECT ts, exchange, symbol, last, bid, ask, bid_size, ask_size, trade_size
		FROM %s
		WHERE symbol = ?
		ORDER BY ts DESC
		LIMIT ?`, r.table)

	start := time.Now()
	err := r.conn.Select(ctx, &rows, query, symbol, limit)
	metrics.RecordDBQuery("clickhouse", "latest_quotes", time.Since(start), err)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select quotes")
	}

	quotes := make([]market_data.Quote, 0, len(rows))
	for _, row := range rows {
		quotes = append(quotes, row.quote())
	}
	return quotes, nil
}
