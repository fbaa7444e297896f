// Package clickhouse reads candles from and writes finished trades to
// ClickHouse over the native protocol.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	chproto "github.com/ClickHouse/clickhouse-go/v2/lib/proto"
	"go.uber.org/zap"

	"pinbar-backtest/services/config"
	"pinbar-backtest/services/market"
	"pinbar-backtest/services/risk"
)

type Client struct {
	conn   driver.Conn
	cfg    config.ClickHouseConfig
	logger *zap.Logger
}

// NewClient opens and pings a connection.
func NewClient(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("clickhouse: no address configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := ch.Open(&ch.Options{
		Addr: []string{cfg.Addr},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: ch.Settings{
			"max_execution_time": uint64(0),
		},
		Compression: &ch.Compression{Method: ch.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %s", Describe(err))
	}
	return &Client{conn: conn, cfg: cfg, logger: logger}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// EnsureSchema creates the database, the candle table and the trade table.
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schemaDDL(c.cfg) {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %s", Describe(err))
		}
	}
	return nil
}

func schemaDDL(cfg config.ClickHouseConfig) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.Database),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			symbol String,
			interval LowCardinality(String),
			open_time_ms UInt64,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			quote_volume Float64,
			trades UInt64,
			taker_base Float64,
			taker_quote Float64,
			close_time_ms UInt64,
			ingested_at DateTime64(3),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, interval, open_time_ms)
		SETTINGS index_granularity = 8192`, cfg.Database, cfg.CandleTable),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			job_id String,
			trade_id String,
			symbol LowCardinality(String),
			side LowCardinality(String),
			formation LowCardinality(String),
			score UInt8,
			trend_tier UInt8,
			entry_time DateTime64(3),
			exit_time DateTime64(3),
			entry_price Decimal(38, 8),
			exit_price Decimal(38, 8),
			size Decimal(38, 8),
			leverage Decimal(38, 8),
			margin Decimal(38, 8),
			gross_pnl Decimal(38, 8),
			commission Decimal(38, 8),
			slippage Decimal(38, 8),
			funding Decimal(38, 8),
			net_pnl Decimal(38, 8),
			return_pct Decimal(38, 8),
			exit_reason LowCardinality(String),
			holding_bars UInt32,
			partials UInt8
		)
		ENGINE = MergeTree
		ORDER BY (symbol, job_id, entry_time)`, cfg.Database, cfg.TradeTable),
	}
}

// LoadCandles returns the symbol's candles for the configured interval with
// open time in [fromMs, toMs], oldest first. toMs <= 0 means no upper bound.
func (c *Client) LoadCandles(ctx context.Context, symbol string, fromMs, toMs int64) ([]market.Candle, error) {
	if toMs <= 0 {
		toMs = time.Now().UnixMilli()
	}
	rows, err := c.conn.Query(ctx, candleQuery(c.cfg), symbol, c.cfg.Interval, uint64(fromMs), uint64(toMs))
	if err != nil {
		return nil, fmt.Errorf("query candles: %s", Describe(err))
	}
	defer rows.Close()

	var out []market.Candle
	for rows.Next() {
		var (
			ts                  uint64
			o, h, l, cl, volume float64
		)
		if err := rows.Scan(&ts, &o, &h, &l, &cl, &volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, market.Candle{Timestamp: int64(ts), Open: o, High: h, Low: l, Close: cl, Volume: volume})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read candles: %s", Describe(err))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s %s", market.ErrNoData, symbol, c.cfg.Interval)
	}
	c.logger.Info("Loaded candles from ClickHouse",
		zap.String("symbol", symbol),
		zap.String("interval", c.cfg.Interval),
		zap.Int("bars", len(out)),
	)
	return out, nil
}

func candleQuery(cfg config.ClickHouseConfig) string {
	return fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume
		FROM %s.%s FINAL
		WHERE symbol = ? AND interval = ? AND open_time_ms BETWEEN ? AND ?
		ORDER BY open_time_ms`, cfg.Database, cfg.CandleTable)
}

// SaveTrades appends the run's trades in one batch.
func (c *Client) SaveTrades(ctx context.Context, jobID string, trades []risk.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", c.cfg.Database, c.cfg.TradeTable))
	if err != nil {
		return fmt.Errorf("prepare batch: %s", Describe(err))
	}
	for _, t := range trades {
		if err := batch.Append(tradeRow(jobID, t)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("batch append %s: %w", t.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %s", Describe(err))
	}
	c.logger.Info("Saved trades to ClickHouse", zap.String("job_id", jobID), zap.Int("trades", len(trades)))
	return nil
}

// tradeRow follows the column order of the trade table.
func tradeRow(jobID string, t risk.Trade) []any {
	return []any{
		jobID,
		t.ID,
		t.Symbol,
		string(t.Direction),
		string(t.Formation),
		uint8(t.Score),
		uint8(t.TrendTier),
		time.UnixMilli(t.EntryTime).UTC(),
		time.UnixMilli(t.ExitTime).UTC(),
		t.EntryPrice,
		t.ExitPrice,
		t.Size,
		t.Leverage,
		t.Margin,
		t.GrossPnL,
		t.Commission,
		t.Slippage,
		t.Funding,
		t.NetPnL,
		t.ReturnPct,
		t.ExitReason,
		uint32(t.HoldingBars),
		uint8(t.Partials),
	}
}

// Describe renders server exceptions with their code and name.
func Describe(err error) string {
	var ex *chproto.Exception
	if errors.As(err, &ex) {
		return fmt.Sprintf("ClickHouse [%d] %s (%s)", ex.Code, ex.Message, ex.Name)
	}
	return err.Error()
}
