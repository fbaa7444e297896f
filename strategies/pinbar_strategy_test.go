package strategies

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinbar-backtest/services/engine"
	"pinbar-backtest/services/market"
)

func TestParamsFromMapOverrides(t *testing.T) {
	p, err := ParamsFromMap(DefaultParams(), map[string]string{
		"risk.risk_per_trade": "0.01",
		"signal.min_score":    "4",
		"signal.target_rr":    "[1, 2, 3]",
		"cursor_mode":         "live",
		"symbol":              "ETHUSDT",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.01, p.Risk.RiskPerTrade)
	assert.Equal(t, 4, p.Signal.MinScore)
	assert.Equal(t, []float64{1, 2, 3}, p.Signal.TargetRR)
	assert.Equal(t, market.CursorLive, p.CursorMode)
	assert.Equal(t, "ETHUSDT", p.Symbol)
	assert.Equal(t, DefaultParams().Risk.BaseLeverage, p.Risk.BaseLeverage, "untouched keys keep the base value")
}

func TestParamsFromMapRejects(t *testing.T) {
	cases := []struct {
		name string
		kv   map[string]string
		want string
	}{
		{"unknown key", map[string]string{"risk.no_such_thing": "1"}, "unknown parameter"},
		{"unknown section", map[string]string{"nope.value": "1"}, "unknown parameter"},
		{"section as value", map[string]string{"risk": "1"}, "section"},
		{"bad value", map[string]string{"risk.stop_loss_pct": "abc"}, "decode params"},
		{"take profit not beyond stop", map[string]string{"risk.take_profit_pct": "0.02"}, "TakeProfitPct"},
		{"risk per trade range", map[string]string{"risk.risk_per_trade": "0.5"}, "RiskPerTrade"},
		{"min leverage above base", map[string]string{"risk.min_leverage": "9"}, "MinLeverage"},
		{"bad cursor", map[string]string{"cursor_mode": "sideways"}, "cursor mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParamsFromMap(DefaultParams(), tc.kv)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
	_, err := ParamsFromMap(DefaultParams(), map[string]string{"risk.nope": "1"})
	assert.True(t, errors.Is(err, ErrUnknownParam))
}

func TestParamsFlatten(t *testing.T) {
	flat := DefaultParams().Flatten()
	assert.Equal(t, "0.005", flat["risk.risk_per_trade"])
	assert.Equal(t, "backtest", flat["cursor_mode"])
	assert.Equal(t, "3", flat["signal.min_score"])
	_, isSection := flat["risk"]
	assert.False(t, isSection)
}

// downtrendWithHammers falls 0.3% per bar and prints a hammer every 20 bars,
// followed by a rebound bar that confirms it.
func downtrendWithHammers(n int) []market.Candle {
	cs := make([]market.Candle, 0, n)
	p := 100.0
	ts := int64(1_700_000_000_000)
	for i := 0; i < n; i++ {
		var c market.Candle
		switch {
		case i >= 80 && i%20 == 0:
			cl := p * 1.001
			c = market.Candle{Open: p, High: cl * 1.0002, Low: p * 0.985, Close: cl}
		case i >= 80 && i%20 == 1:
			cl := p * 1.004
			c = market.Candle{Open: p, High: cl * 1.001, Low: p * 0.999, Close: cl}
		default:
			cl := p * 0.997
			c = market.Candle{Open: p, High: p * 1.001, Low: cl * 0.999, Close: cl}
		}
		c.Timestamp = ts + int64(i)*300_000
		c.Volume = 1000
		cs = append(cs, c)
		p = c.Close
	}
	return cs
}

func TestPinbarStrategyEndToEnd(t *testing.T) {
	s, err := NewPinbarStrategy(DefaultParams(), nil)
	require.NoError(t, err)
	s.SetCandles(downtrendWithHammers(600))
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 600, s.PerfMetrics.BarsProcessed)
	require.NotNil(t, s.Manifest)
	assert.Equal(t, 600, s.Manifest.Bars)
	assert.Zero(t, s.Manifest.Gaps)
	assert.NotEmpty(t, s.Manifest.ConfigSnapshot.ConfigHash)
	assert.NotEmpty(t, s.JobID)

	require.NotEmpty(t, s.Signals)
	for _, sig := range s.Signals {
		assert.Equal(t, "BUY", string(sig.Direction))
		assert.GreaterOrEqual(t, sig.Score, 3)
	}
	require.NotEmpty(t, s.Trades)

	net := decimal.Zero
	for _, tr := range s.Trades {
		assert.True(t, strings.HasPrefix(tr.ID, "PB"))
		net = net.Add(tr.NetPnL)
	}
	sum := s.GenerateSummary()
	assert.Equal(t, len(s.Trades), sum.TotalTrades)
	assert.True(t, net.Equal(sum.FinalEquity.Sub(sum.InitialEquity)), "%s vs %s", net, sum.FinalEquity.Sub(sum.InitialEquity))
	assert.True(t, sum.OpenPnl.IsZero())

	var buf bytes.Buffer
	require.NoError(t, s.WriteCSV(&buf))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, strings.Join(tradeHeader, ",")))
	assert.Contains(t, out, "# Summary")
	assert.Contains(t, out, "total_trades,")
	assert.Contains(t, out, "breakeven,")
}

func TestPinbarStrategySkipsMalformedCandle(t *testing.T) {
	cs := downtrendWithHammers(600)
	cs[150].Close = math.NaN()
	bad := cs[150].Timestamp

	s, err := NewPinbarStrategy(DefaultParams(), nil)
	require.NoError(t, err)
	s.SetCandles(cs)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, 599, s.PerfMetrics.BarsProcessed)
	assert.Equal(t, 599, s.Manifest.Bars)
	assert.Equal(t, 1, s.Manifest.Gaps)
	assert.Equal(t, 1, s.Series.Skipped)
	require.Equal(t, 1, s.Events.Count(engine.EventBarSkipped))
	assert.Equal(t, bad, s.Events.Filter(engine.EventBarSkipped)[0].Ts)

	after := 0
	for _, sig := range s.Signals {
		assert.False(t, math.IsNaN(sig.Close))
		if sig.Timestamp > bad {
			after++
		}
	}
	assert.Positive(t, after, "signals keep firing after the bad bar")
	require.NotEmpty(t, s.Trades)
	sum := s.GenerateSummary()
	assert.Equal(t, len(s.Trades), sum.TotalTrades)
}

func TestPinbarStrategyAllCandlesMalformed(t *testing.T) {
	cs := downtrendWithHammers(10)
	for i := range cs {
		cs[i].High = math.Inf(1)
	}
	s, err := NewPinbarStrategy(DefaultParams(), nil)
	require.NoError(t, err)
	s.SetCandles(cs)
	assert.ErrorIs(t, s.Run(context.Background()), market.ErrNoData)
	assert.Equal(t, 10, s.Events.Count(engine.EventBarSkipped))
}

func TestPinbarStrategyExportCSV(t *testing.T) {
	s, err := NewPinbarStrategy(DefaultParams(), nil)
	require.NoError(t, err)
	s.SetCandles(downtrendWithHammers(300))
	require.NoError(t, s.Run(context.Background()))

	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, s.ExportCSV(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(string(b), "\n")
	assert.Equal(t, strings.Join(tradeHeader, ","), lines[0])
	rows := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "PB") {
			rows++
		}
	}
	assert.Equal(t, len(s.Trades), rows)
	assert.Contains(t, string(b), "final_equity,")
}

func TestPinbarStrategyCancelled(t *testing.T) {
	s, err := NewPinbarStrategy(DefaultParams(), nil)
	require.NoError(t, err)
	s.SetCandles(downtrendWithHammers(200))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Empty(t, s.Trades)
}

func TestPinbarStrategyNoData(t *testing.T) {
	s, err := NewPinbarStrategy(DefaultParams(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Run(context.Background()), market.ErrNoData)
}

func TestNewPinbarStrategyValidates(t *testing.T) {
	p := DefaultParams()
	p.Risk.TakeProfitPct = p.Risk.StopLossPct
	_, err := NewPinbarStrategy(p, nil)
	assert.Error(t, err)
}

func TestParamsBrokerSlippageTicks(t *testing.T) {
	p := DefaultParams()
	p.SlippageTicks = 3
	b := p.Broker()
	ack, err := b.Fill(engine.FillRequest{Side: engine.TradeSideBuy, Size: 1, Price: 100})
	require.NoError(t, err)
	assert.InDelta(t, 100.03, ack.FilledPrice, 1e-9)

	p.SlippageTicks = 0
	ack, err = p.Broker().Fill(engine.FillRequest{Side: engine.TradeSideSell, Size: 1, Price: 100})
	require.NoError(t, err)
	assert.InDelta(t, 99.95, ack.FilledPrice, 1e-9)
}

type rejectAll struct{}

func (rejectAll) Fill(req engine.FillRequest) (engine.FillAck, error) {
	return engine.FillAck{}, errors.Join(engine.ErrFillRejected, errors.New("venue closed"))
}

func TestPinbarStrategyLoadCSVWithRejectingBroker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "BTCUSDT.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, market.WriteCSV(f, downtrendWithHammers(600)))
	require.NoError(t, f.Close())

	s, err := NewPinbarStrategy(DefaultParams(), nil)
	require.NoError(t, err)
	require.NoError(t, s.LoadCSV(path))
	assert.Equal(t, "BTCUSDT", s.Series.Symbol)
	s.SetBroker(rejectAll{})
	require.NoError(t, s.Run(context.Background()))

	assert.NotEmpty(t, s.Signals)
	assert.Empty(t, s.Trades)
	assert.Positive(t, s.Events.Count(engine.EventFillRejected))
	assert.True(t, s.Summary.FinalEquity.Equal(s.Summary.InitialEquity))
}
