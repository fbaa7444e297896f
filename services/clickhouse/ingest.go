package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pinbar-backtest/services/market"
)

// SaveCandles inserts candles for symbol at interval into the candle table.
// Rows share one version, so re-ingesting a month replaces it on merge.
func (c *Client) SaveCandles(ctx context.Context, symbol, interval string, cs []market.Candle) error {
	if len(cs) == 0 {
		return nil
	}
	step := market.DetectCadence(cs)
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", c.cfg.Database, c.cfg.CandleTable))
	if err != nil {
		return fmt.Errorf("prepare batch: %s", Describe(err))
	}
	now := time.Now().UTC()
	version := uint64(now.UnixNano())
	for _, k := range cs {
		if err := batch.Append(candleRow(symbol, interval, step, k, now, version)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %s", Describe(err))
	}
	c.logger.Info("Inserted candles",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("rows", len(cs)),
	)
	return nil
}

// candleRow follows the column order of the candle table. Columns the
// archive CSV does not carry through market.Candle are zero.
func candleRow(symbol, interval string, stepMs int64, k market.Candle, ingested time.Time, version uint64) []any {
	closeMs := uint64(k.Timestamp)
	if stepMs > 0 {
		closeMs += uint64(stepMs) - 1
	}
	return []any{
		symbol, interval,
		uint64(k.Timestamp),
		k.Open, k.High, k.Low, k.Close,
		k.Volume,
		0.0,       // quote_volume
		uint64(0), // trades
		0.0,       // taker_base
		0.0,       // taker_quote
		closeMs,
		ingested,
		version,
	}
}

// DeriveInterval aggregates the source interval into tf buckets of minutes
// inside ClickHouse.
func (c *Client) DeriveInterval(ctx context.Context, source, tf string, minutes int) error {
	if err := c.conn.Exec(ctx, deriveQuery(c.cfg.Database, c.cfg.CandleTable, source, tf, minutes)); err != nil {
		return fmt.Errorf("derive %s: %s", tf, Describe(err))
	}
	c.logger.Info("Derived interval", zap.String("from", source), zap.String("interval", tf))
	return nil
}

func deriveQuery(db, table, source, tf string, minutes int) string {
	return fmt.Sprintf(`
        INSERT INTO %[1]s.%[2]s SETTINGS insert_deduplicate=1
        SELECT
            symbol,
            '%[3]s' AS interval,
            toUInt64(toUnixTimestamp(start_ts) * 1000) AS open_time_ms,
            argMin(open, open_time_ms)  AS open,
            max(high)                   AS high,
            min(low)                    AS low,
            argMax(close, open_time_ms) AS close,
            sum(volume)                 AS volume,
            sum(quote_volume)           AS quote_volume,
            sum(trades)                 AS trades,
            sum(taker_base)             AS taker_base,
            sum(taker_quote)            AS taker_quote,
            toUInt64(toUnixTimestamp(start_ts) * 1000 + %[4]d*60*1000 - 1) AS close_time_ms,
            now64(3)                    AS ingested_at,
            toUInt64(toUnixTimestamp64Nano(now64(9))) AS version
        FROM (
            SELECT
                symbol,
                open_time_ms,
                open, high, low, close, volume, quote_volume, trades, taker_base, taker_quote,
                toStartOfInterval(toDateTime(intDiv(open_time_ms, 1000)), INTERVAL %[4]d MINUTE) AS start_ts
            FROM %[1]s.%[2]s FINAL
            WHERE interval = '%[5]s'
        )
        GROUP BY symbol, start_ts`, db, table, tf, minutes, source)
}
