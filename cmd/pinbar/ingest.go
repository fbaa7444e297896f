package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pinbar-backtest/services/clickhouse"
	"pinbar-backtest/services/market"
)

func newIngestCmd(a *app) *cobra.Command {
	var (
		symbols  []string
		from, to string
		interval string
		derive   []string
		baseURL  string
	)
	cmd := &cobra.Command{
		Use:     "ingest",
		Short:   "Load monthly Binance kline archives into ClickHouse",
		Example: `  pinbar ingest --symbols BTCUSDT,ETHUSDT --from 2023-01 --to 2023-12 --derive 5m,15m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.ClickHouse.Enabled() {
				return errors.New("ingest needs clickhouse.addr or PINBAR_CLICKHOUSE_ADDR")
			}
			if to == "" {
				to = time.Now().UTC().AddDate(0, -1, 0).Format("2006-01")
			}
			months, err := market.MonthRange(from, to)
			if err != nil {
				return err
			}
			// validate derived cadences before downloading anything
			steps := make([]int, len(derive))
			for i, tf := range derive {
				d, err := market.ParseCadence(tf)
				if err != nil {
					return err
				}
				steps[i] = int(d / time.Minute)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ch, err := clickhouse.NewClient(ctx, a.cfg.ClickHouse, a.logger)
			if err != nil {
				return err
			}
			defer ch.Close()
			if err := ch.EnsureSchema(ctx); err != nil {
				return err
			}

			archive := market.NewKlineArchive(baseURL, a.logger)
			for _, sym := range symbols {
				sym = strings.ToUpper(strings.TrimSpace(sym))
				for _, m := range months {
					cs, err := archive.FetchMonth(ctx, sym, interval, m)
					if errors.Is(err, market.ErrArchiveMissing) {
						a.logger.Warn("Archive missing, skipping month", zap.String("symbol", sym), zap.String("month", m.Format("2006-01")))
						continue
					}
					if err != nil {
						return fmt.Errorf("%s %s: %w", sym, m.Format("2006-01"), err)
					}
					if err := ch.SaveCandles(ctx, sym, interval, cs); err != nil {
						return fmt.Errorf("%s %s: %w", sym, m.Format("2006-01"), err)
					}
				}
			}
			for i, tf := range derive {
				if err := ch.DeriveInterval(ctx, interval, tf, steps[i]); err != nil {
					return err
				}
			}
			a.logger.Info("Ingest complete", zap.Strings("symbols", symbols), zap.Int("months", len(months)))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&symbols, "symbols", []string{"BTCUSDT"}, "symbols to ingest")
	f.StringVar(&from, "from", "2020-09", "first month (YYYY-MM)")
	f.StringVar(&to, "to", "", "last month (YYYY-MM), default last month")
	f.StringVar(&interval, "interval", "1m", "archive kline interval")
	f.StringSliceVar(&derive, "derive", nil, "cadences to aggregate from --interval, e.g. 5m,15m")
	f.StringVar(&baseURL, "base-url", market.DefaultArchiveURL, "archive mirror")
	return cmd
}
