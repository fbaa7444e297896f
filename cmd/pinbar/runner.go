package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pinbar-backtest/services/clickhouse"
	"pinbar-backtest/services/market"
	"pinbar-backtest/strategies"
)

// candleSource loads one symbol's raw candles.
type candleSource func(ctx context.Context, symbol string) ([]market.Candle, error)

// csvSource reads <dir>/<SYMBOL>.csv, or file for every symbol when set.
func csvSource(dir, file string, logger *zap.Logger) candleSource {
	return func(_ context.Context, symbol string) ([]market.Candle, error) {
		path := file
		if path == "" {
			path = filepath.Join(dir, symbol+".csv")
		}
		s, err := market.LoadCSV(path, logger.With(zap.String("symbol", symbol)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return s.Candles, nil
	}
}

func clickhouseSource(ch *clickhouse.Client, fromMs, toMs int64) candleSource {
	return func(ctx context.Context, symbol string) ([]market.Candle, error) {
		return ch.LoadCandles(ctx, symbol, fromMs, toMs)
	}
}

// runSymbols runs one independent backtest per symbol, at most workers at a
// time. Results keep the order of symbols. The first failure cancels the
// rest.
func runSymbols(ctx context.Context, jobID string, params strategies.Params, symbols []string, load candleSource, workers int, logger *zap.Logger) ([]*strategies.PinbarStrategy, error) {
	start := time.Now()
	logger.Info("Starting parallel backtest execution",
		zap.String("job_id", jobID),
		zap.Int("workers", workers),
		zap.Int("symbols", len(symbols)),
	)

	results := make([]*strategies.PinbarStrategy, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, symbol := range symbols {
		g.Go(func() error {
			p := params
			p.Symbol = symbol
			strat, err := strategies.NewPinbarStrategy(p, logger)
			if err != nil {
				return fmt.Errorf("%s: %w", symbol, err)
			}
			strat.JobID = jobID

			candles, err := load(gctx, symbol)
			if err != nil {
				return fmt.Errorf("failed to load market data for %s: %w", symbol, err)
			}
			strat.SetCandles(candles)
			if err := strat.Run(gctx); err != nil {
				return fmt.Errorf("failed to process symbol %s: %w", symbol, err)
			}
			results[i] = strat
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("Backtest job completed",
		zap.String("job_id", jobID),
		zap.Duration("execution_time", time.Since(start)),
		zap.Int("symbol_count", len(symbols)),
	)
	return results, nil
}
