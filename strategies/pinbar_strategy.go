//! Pin-bar Strategy Implementation
//!
//! Runs the hammer / shooting-star detector, the trend tracker and the
//! position manager over one symbol's candles, bar by bar, and exports the
//! resulting trades.

package strategies

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pinbar-backtest/services/engine"
	"pinbar-backtest/services/market"
	"pinbar-backtest/services/risk"
	"pinbar-backtest/services/signal"
	"pinbar-backtest/services/trend"
)

const (
	EngineVersion = "pinbar-1.0.0"
	progressEvery = 1000
)

// PerformanceMetrics describes the run itself, not the trading result.
type PerformanceMetrics struct {
	StartTime     time.Time
	EndTime       time.Time
	BarsProcessed int
	BarsPerSecond float64
}

// PinbarStrategy owns every stateful component of one run. Build a new one
// per symbol; nothing is shared between runs.
type PinbarStrategy struct {
	Params Params
	JobID  string

	Series   *market.Series
	Manifest *engine.RunManifest
	Events   *engine.EventLog
	Signals  []signal.Signal
	Trades   []risk.Trade
	Summary  risk.Summary
	Gaps     []uint64

	PerfMetrics PerformanceMetrics

	broker engine.Broker
	logger *zap.Logger
}

func NewPinbarStrategy(p Params, logger *zap.Logger) (*PinbarStrategy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PinbarStrategy{
		Params: p,
		Events: &engine.EventLog{},
		broker: p.Broker(),
		logger: logger.With(zap.String("symbol", p.Symbol)),
	}, nil
}

// SetBroker replaces the simulated broker.
func (s *PinbarStrategy) SetBroker(b engine.Broker) { s.broker = b }

// LoadCSV loads candles from a CSV file.
func (s *PinbarStrategy) LoadCSV(filename string) error {
	series, err := market.LoadCSV(filename, s.logger)
	if err != nil {
		return err
	}
	series.Symbol = s.Params.Symbol
	s.Series = series
	return nil
}

// SetCandles uses already loaded candles, e.g. from ClickHouse or Arrow.
func (s *PinbarStrategy) SetCandles(cs []market.Candle) {
	s.Series = &market.Series{Symbol: s.Params.Symbol, Candles: cs, CadenceMs: market.DetectCadence(cs)}
}

// Run processes every candle in order. Cancellation is checked every
// progressEvery bars; a cancelled run returns ctx.Err() and keeps no trades.
func (s *PinbarStrategy) Run(ctx context.Context) error {
	if s.Series == nil || len(s.Series.Candles) == 0 {
		return market.ErrNoData
	}
	s.PerfMetrics = PerformanceMetrics{StartTime: time.Now()}
	if s.JobID == "" {
		s.JobID = uuid.NewString()
	}

	candles := s.dropInvalid(s.Series.Candles)
	if len(candles) == 0 {
		return market.ErrNoData
	}
	if s.Params.Annotate {
		candles = market.Annotate(candles, s.Params.Indicators)
	}

	clean := market.Series{Candles: candles}
	s.Gaps = engine.DetectGaps(clean.Timestamps(), uint64(s.Series.CadenceMs))
	if len(s.Gaps) > 0 {
		s.logger.Warn("Data gaps detected", zap.Int("gaps", len(s.Gaps)), zap.Int64("cadence_ms", s.Series.CadenceMs))
	}
	s.Manifest = &engine.RunManifest{
		JobID:          s.JobID,
		Symbol:         s.Params.Symbol,
		ConfigSnapshot: engine.SnapshotConfig("backtest", EngineVersion, s.Params.Flatten()),
		DataChecksum:   engine.DataChecksum(candles),
		Bars:           len(candles),
		Gaps:           len(s.Gaps),
		EngineVersion:  EngineVersion,
		CreatedAt:      uint64(time.Now().UnixMilli()),
	}

	mgr, err := risk.NewManager(s.Params.Risk, s.Params.Symbol, s.broker, s.Events, s.logger)
	if err != nil {
		return err
	}
	window := market.NewWindow(s.Params.WindowSize)
	tracker := trend.NewTracker(s.Params.Trend)
	detector := signal.NewDetector(s.Params.Signal, s.Params.CursorMode, s.logger)

	s.logger.Info("Starting pin-bar backtest",
		zap.String("job_id", s.JobID),
		zap.Int("bars", len(candles)),
		zap.Int("warmup_bars", s.Params.Indicators.WarmupBars()),
		zap.String("cursor", s.Params.CursorMode.String()),
		zap.String("config_hash", s.Manifest.ConfigSnapshot.ConfigHash),
	)

	s.Signals = s.Signals[:0]
	for i, c := range candles {
		if i%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				s.logger.Warn("Backtest cancelled", zap.Int("bar", i), zap.Error(err))
				return err
			}
		}

		window.Append(c)
		at := s.Params.CursorMode.Index(window)
		if at < 0 {
			continue
		}
		bar, seq := window.At(at), window.SeqAt(at)

		st := tracker.Update(window, at)
		sig := detector.Detect(window, st)
		if sig != nil {
			s.Signals = append(s.Signals, *sig)
		}
		rep, err := mgr.OnBar(bar, seq, st, sig)
		if err != nil {
			return fmt.Errorf("bar %d: %w", seq, err)
		}
		s.PerfMetrics.BarsProcessed++

		if i%progressEvery == 0 {
			s.logger.Info("Processed bar",
				zap.Int("bar", i),
				zap.Int("total", len(candles)),
				zap.String("time", time.UnixMilli(bar.Timestamp).UTC().Format("2006-01-02 15:04:05")),
				zap.Float64("close", bar.Close),
				zap.String("trend", string(st.Direction)),
				zap.Int("tier", st.Tier),
				zap.Int("open_positions", len(mgr.Positions())),
				zap.String("equity", rep.Equity.StringFixed(2)),
			)
		}
	}

	mgr.Finish()
	s.Trades = mgr.Trades()
	s.Summary = mgr.Summary()

	s.PerfMetrics.EndTime = time.Now()
	if d := s.PerfMetrics.EndTime.Sub(s.PerfMetrics.StartTime).Seconds(); d > 0 {
		s.PerfMetrics.BarsPerSecond = float64(s.PerfMetrics.BarsProcessed) / d
	}
	s.logger.Info("Backtest completed",
		zap.Int("bars", s.PerfMetrics.BarsProcessed),
		zap.Int("signals", len(s.Signals)),
		zap.Int("trades", len(s.Trades)),
		zap.String("net_pnl", s.Summary.NetPnlUsd.StringFixed(2)),
		zap.String("final_equity", s.Summary.FinalEquity.StringFixed(2)),
		zap.Bool("breaker_tripped", s.Summary.BreakerTripped),
		zap.Float64("bars_per_sec", s.PerfMetrics.BarsPerSecond),
	)
	return nil
}

// dropInvalid removes candles that fail Candle.Valid before the indicator
// kernels see them; one NaN would otherwise stay in every running average.
func (s *PinbarStrategy) dropInvalid(cs []market.Candle) []market.Candle {
	out := make([]market.Candle, 0, len(cs))
	for i, c := range cs {
		if c.Valid() {
			out = append(out, c)
			continue
		}
		s.Series.Skipped++
		s.Events.Append(engine.Event{
			Ts:      c.Timestamp,
			Seq:     int64(i),
			Type:    engine.EventBarSkipped,
			Symbol:  s.Params.Symbol,
			Details: map[string]string{"reason": "malformed candle"},
		})
		s.logger.Debug("Skipping malformed candle", zap.Int("index", i), zap.Int64("ts", c.Timestamp))
	}
	if n := len(cs) - len(out); n > 0 {
		s.logger.Warn("Dropped malformed candles", zap.Int("count", n))
	}
	return out
}

// GenerateSummary returns the end-of-run aggregates.
func (s *PinbarStrategy) GenerateSummary() risk.Summary { return s.Summary }

// ExportCSV exports trades to a CSV file with a summary footer.
func (s *PinbarStrategy) ExportCSV(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()
	return s.WriteCSV(file)
}

var tradeHeader = []string{
	"id", "symbol", "side", "formation", "score", "trend_tier",
	"entry_time_utc", "entry_price", "exit_time_utc", "exit_price", "exit_reason",
	"size", "leverage", "margin", "gross_pnl", "commission", "slippage", "funding",
	"total_cost", "net_pnl", "return_pct", "margin_ratio", "holding_bars", "holding_hours", "partials",
}

func (s *PinbarStrategy) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range s.Trades {
		record := []string{
			t.ID,
			t.Symbol,
			string(t.Direction),
			string(t.Formation),
			strconv.Itoa(t.Score),
			strconv.Itoa(t.TrendTier),
			formatTime(t.EntryTime),
			t.EntryPrice.String(),
			formatTime(t.ExitTime),
			t.ExitPrice.StringFixed(8),
			t.ExitReason,
			t.Size.String(),
			t.Leverage.StringFixed(4),
			t.Margin.StringFixed(8),
			t.GrossPnL.StringFixed(8),
			t.Commission.StringFixed(8),
			t.Slippage.StringFixed(8),
			t.Funding.StringFixed(8),
			t.TotalCost.StringFixed(8),
			t.NetPnL.StringFixed(8),
			t.ReturnPct.StringFixed(4),
			t.MarginRatio.StringFixed(6),
			strconv.Itoa(t.HoldingBars),
			t.HoldingHours.StringFixed(4),
			strconv.Itoa(t.Partials),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	summary := s.Summary
	rows := [][]string{
		{""},
		{"# Summary"},
		{"total_trades", strconv.Itoa(summary.TotalTrades)},
		{"wins", strconv.Itoa(summary.Wins)},
		{"losses", strconv.Itoa(summary.Losses)},
		{"breakeven", strconv.Itoa(summary.Breakeven)},
		{"win_rate", summary.WinRate.StringFixed(2)},
		{"net_pnl_usd", summary.NetPnlUsd.StringFixed(2)},
		{"avg_win_usd", summary.AvgWinUsd.StringFixed(2)},
		{"avg_loss_usd", summary.AvgLossUsd.StringFixed(2)},
		{"expectancy", summary.Expectancy.StringFixed(2)},
		{"max_drawdown", summary.MaxDrawdown.StringFixed(2)},
		{"profit_factor", summary.ProfitFactor.StringFixed(2)},
		{"avg_holding_time_hours", summary.AvgHoldingTimeHours.StringFixed(2)},
		{"commission", summary.Commission.StringFixed(2)},
		{"slippage", summary.Slippage.StringFixed(2)},
		{"funding", summary.Funding.StringFixed(2)},
		{"final_equity", summary.FinalEquity.StringFixed(2)},
		{"breaker_tripped", strconv.FormatBool(summary.BreakerTripped)},
	}
	for _, r := range summary.SortedReasons() {
		rows = append(rows, []string{"exit_reason:" + r, strconv.Itoa(summary.ExitReasons[r])})
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}
