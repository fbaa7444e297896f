package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pinbar-backtest/services/arrowpipeline"
	"pinbar-backtest/services/clickhouse"
	"pinbar-backtest/strategies"
)

const timeLayout = "2006-01-02 15:04:05"

type runOptions struct {
	symbols []string
	csv     string
	dataDir string
	from    string
	to      string
	sets    []string
	outDir  string
	arrow   bool
	save    bool
}

func newRunCmd(a *app) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backtest one or more symbols and export the trades",
		Example: `  pinbar run --csv ./BTCUSDT_5m.csv
  pinbar run --symbols BTCUSDT,ETHUSDT --from "2023-01-01 00:00:00" --set risk.risk_per_trade=0.01 --arrow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, o, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&o.symbols, "symbols", nil, "symbols to run (default: strategy.symbol)")
	f.StringVar(&o.csv, "csv", "", "single CSV file; requires one symbol")
	f.StringVar(&o.dataDir, "data-dir", "data", "directory of <SYMBOL>.csv files when ClickHouse is not configured")
	f.StringVar(&o.from, "from", "2020-09-01 00:00:00", "start UTC ("+timeLayout+")")
	f.StringVar(&o.to, "to", "", "end UTC ("+timeLayout+"), default now")
	f.StringArrayVar(&o.sets, "set", nil, "parameter override key=value, repeatable")
	f.StringVar(&o.outDir, "out-dir", ".", "directory for trade exports")
	f.BoolVar(&o.arrow, "arrow", false, "also write <SYMBOL>_trades.arrow")
	f.BoolVar(&o.save, "save", false, "save trades to ClickHouse")
	return cmd
}

func parseSets(sets []string) (map[string]string, error) {
	kv := make(map[string]string, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("--set %q: want key=value", s)
		}
		kv[strings.TrimSpace(k)] = v
	}
	return kv, nil
}

func parseUTC(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func (a *app) run(ctx context.Context, o *runOptions, stdout io.Writer) error {
	overrides, err := parseSets(o.sets)
	if err != nil {
		return err
	}
	params, err := strategies.ParamsFromMap(a.cfg.Strategy, overrides)
	if err != nil {
		return err
	}
	symbols := o.symbols
	if len(symbols) == 0 {
		symbols = []string{params.Symbol}
	}
	if o.csv != "" && len(symbols) != 1 {
		return fmt.Errorf("--csv takes exactly one symbol, got %d", len(symbols))
	}

	var ch *clickhouse.Client
	if a.cfg.ClickHouse.Enabled() && (o.csv == "" || o.save) {
		if ch, err = clickhouse.NewClient(ctx, a.cfg.ClickHouse, a.logger); err != nil {
			return err
		}
		defer ch.Close()
		if err := ch.EnsureSchema(ctx); err != nil {
			return err
		}
	} else if o.save {
		return errors.New("--save needs clickhouse.addr")
	}

	load := csvSource(o.dataDir, o.csv, a.logger)
	if o.csv == "" && ch != nil {
		fromMs, err := parseUTC(o.from)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		toMs, err := parseUTC(o.to)
		if err != nil {
			return fmt.Errorf("--to: %w", err)
		}
		load = clickhouseSource(ch, fromMs, toMs)
	}

	jobID := uuid.NewString()
	results, err := runSymbols(ctx, jobID, params, symbols, load, a.cfg.Engine.MaxWorkers, a.logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(o.outDir, 0o755); err != nil {
		return err
	}
	pipe := arrowpipeline.NewPipeline(a.cfg.Arrow, nil, a.logger)
	for _, s := range results {
		if err := s.ExportCSV(filepath.Join(o.outDir, s.Params.Symbol+"_trades.csv")); err != nil {
			return err
		}
		if o.arrow {
			if err := writeArrow(pipe, filepath.Join(o.outDir, s.Params.Symbol+"_trades.arrow"), s); err != nil {
				return err
			}
		}
		if o.save {
			if err := ch.SaveTrades(ctx, jobID, s.Trades); err != nil {
				return err
			}
		}
		printSummary(stdout, s)
	}
	return nil
}

func writeArrow(pipe *arrowpipeline.Pipeline, path string, s *strategies.PinbarStrategy) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := pipe.WriteTrades(f, s.Trades); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, s *strategies.PinbarStrategy) {
	sum := s.GenerateSummary()
	fmt.Fprintf(w, "=== Pin-bar Backtest Summary: %s ===\n", s.Params.Symbol)
	fmt.Fprintf(w, "Job: %s  Config: %.12s\n", s.JobID, s.Manifest.ConfigSnapshot.ConfigHash)
	fmt.Fprintf(w, "Bars: %d  Gaps: %d  Signals: %d\n", s.Manifest.Bars, s.Manifest.Gaps, len(s.Signals))
	fmt.Fprintf(w, "Trades: %d, WinRate: %s%%, ProfitFactor: %s, NetPnL: $%s\n",
		sum.TotalTrades, sum.WinRate.StringFixed(2), sum.ProfitFactor.StringFixed(2), sum.NetPnlUsd.StringFixed(2))
	fmt.Fprintf(w, "Costs: commission $%s, slippage $%s, funding $%s\n",
		sum.Commission.StringFixed(2), sum.Slippage.StringFixed(2), sum.Funding.StringFixed(2))
	fmt.Fprintf(w, "MaxDD: %s%%  Final equity: $%s  Breaker: %t\n",
		sum.MaxDrawdown.StringFixed(2), sum.FinalEquity.StringFixed(2), sum.BreakerTripped)
}
