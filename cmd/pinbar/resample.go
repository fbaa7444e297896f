package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pinbar-backtest/services/market"
)

func newResampleCmd(a *app) *cobra.Command {
	var in, out, dst string
	cmd := &cobra.Command{
		Use:   "resample",
		Short: "Aggregate a candle CSV into a coarser cadence",
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := market.ParseCadence(dst)
			if err != nil {
				return err
			}
			s, err := market.LoadCSV(in, a.logger)
			if err != nil {
				return err
			}
			if s.CadenceMs > 0 && step.Milliseconds()%s.CadenceMs != 0 {
				return fmt.Errorf("target %s is not a multiple of the source cadence %dms", dst, s.CadenceMs)
			}
			bars := market.Resample(s.Candles, step)

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			if err := market.WriteCSV(f, bars); err != nil {
				f.Close()
				return err
			}
			a.logger.Info("Resampled candles", zap.Int("in", len(s.Candles)), zap.Int("out", len(bars)), zap.String("cadence", dst))
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "input CSV (timestamp,open,high,low,close,volume)")
	cmd.Flags().StringVar(&out, "out", "", "output CSV path")
	cmd.Flags().StringVar(&dst, "dst", "15m", "target cadence, e.g. 15m or 1h")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
