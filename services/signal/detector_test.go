package signal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinbar-backtest/services/engine"
	"pinbar-backtest/services/market"
	"pinbar-backtest/services/trend"
)

func indicators(over map[string]float64) map[string]float64 {
	m := map[string]float64{
		market.SMASlow:       100,
		market.RSI:           50,
		market.ATR:           0.5,
		market.ADX:           25,
		market.ATRPercentile: 50,
		market.VolumeRatio:   1,
	}
	for k, v := range over {
		m[k] = v
	}
	return m
}

func candle(o, h, l, c float64, over map[string]float64) market.Candle {
	return market.Candle{Open: o, High: h, Low: l, Close: c, Volume: 1000, Indicators: indicators(over)}
}

type builder struct {
	w  *market.Window
	ts int64
}

func newBuilder() *builder { return &builder{w: market.NewWindow(market.DefaultWindowSize)} }

func (b *builder) add(c market.Candle) *builder {
	b.ts += 300_000
	c.Timestamp = b.ts
	b.w.Append(c)
	return b
}

func (b *builder) background(n int) *builder {
	for i := 0; i < n; i++ {
		b.add(candle(99, 99.3, 98.8, 99.1, nil))
	}
	return b
}

// lower shadow 8.5x body, body/range 0.1, close 2% under the slow MA.
func hammer(over map[string]float64) market.Candle {
	return candle(97.90, 98.05, 97.05, 98.00, over)
}

func TestDetectHammerScenario(t *testing.T) {
	b := newBuilder().background(70).add(hammer(map[string]float64{market.RSI: 25}))
	d := NewDetector(DefaultConfig(), market.CursorBacktest, nil)

	sig := d.Detect(b.w, trend.Neutral())
	require.NotNil(t, sig)
	assert.Equal(t, engine.TradeSideBuy, sig.Direction)
	assert.Equal(t, Hammer, sig.Formation)
	assert.GreaterOrEqual(t, sig.Score, 3)
	assert.True(t, sig.Confirmations.Has(FactorRSI))
	assert.True(t, sig.Confirmations.Has(FactorTrend))
	assert.InDelta(t, 0.1, sig.BodyRangeRatio, 1e-9)
	assert.InDelta(t, 8.5, sig.ShadowBodyRatio, 1e-9)
	assert.Equal(t, 2, sig.Strength, "score 3 plus textbook shape bonus")
	assert.InDelta(t, 96.80, sig.StopLoss, 1e-9)
	assert.InDelta(t, 98.00+1.5*1.2, sig.Targets[0], 1e-9)
	assert.InDelta(t, 0.3, sig.Confidence, 1e-9)
	assert.Equal(t, trend.Neutral(), sig.Trend)
}

func TestDetectEngulfedHammerVetoed(t *testing.T) {
	b := newBuilder().background(70).
		add(candle(98.4, 98.5, 97.0, 97.2, nil)).
		add(hammer(map[string]float64{market.RSI: 25}))
	d := NewDetector(DefaultConfig(), market.CursorBacktest, nil)
	assert.Nil(t, d.Detect(b.w, trend.Neutral()))
}

func TestDetectShootingStar(t *testing.T) {
	b := newBuilder().background(70).
		add(candle(98.10, 98.95, 97.95, 98.00, map[string]float64{market.SMASlow: 96, market.RSI: 75}))
	sig := NewDetector(DefaultConfig(), market.CursorBacktest, nil).Detect(b.w, trend.Neutral())
	require.NotNil(t, sig)
	assert.Equal(t, engine.TradeSideSell, sig.Direction)
	assert.Equal(t, ShootingStar, sig.Formation)
	assert.Greater(t, sig.StopLoss, sig.High)
	assert.Less(t, sig.Targets[2], sig.Targets[0])
}

func TestDetectNoSignalCases(t *testing.T) {
	cases := []struct {
		name string
		b    *builder
	}{
		{"short window", newBuilder().background(20).add(hammer(map[string]float64{market.RSI: 25}))},
		{"nan rsi", newBuilder().background(70).add(hammer(map[string]float64{market.RSI: math.NaN()}))},
		{"trend gate", newBuilder().background(70).add(hammer(map[string]float64{market.RSI: 25, market.SMASlow: 98.5}))},
		{"low score", newBuilder().background(70).add(hammer(nil))},
		{"zero body", newBuilder().background(70).add(candle(98, 98.05, 97.05, 98, map[string]float64{market.RSI: 25}))},
		{"fat body", newBuilder().background(70).add(candle(97.5, 98.05, 97.05, 98, map[string]float64{market.RSI: 25}))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDetector(DefaultConfig(), market.CursorBacktest, nil)
			assert.Nil(t, d.Detect(tc.b.w, trend.Neutral()))
		})
	}
}

func TestDetectEvaluatesEachBarOnce(t *testing.T) {
	b := newBuilder().background(70).add(hammer(map[string]float64{market.RSI: 25}))
	d := NewDetector(DefaultConfig(), market.CursorBacktest, nil)
	require.NotNil(t, d.Detect(b.w, trend.Neutral()))
	scans := d.cache.scans
	assert.Nil(t, d.Detect(b.w, trend.Neutral()))
	assert.Equal(t, scans, d.cache.scans, "no new bar means no rescan")

	b.add(candle(99, 99.3, 98.8, 99.1, nil))
	d.Detect(b.w, trend.Neutral())
	assert.Equal(t, scans+1, d.cache.scans)
	assert.Equal(t, b.w.Total()-1, d.cache.scanned)
}

func TestDetectLiveCursorSkipsFormingBar(t *testing.T) {
	b := newBuilder().background(70).add(hammer(map[string]float64{market.RSI: 25}))
	d := NewDetector(DefaultConfig(), market.CursorLive, nil)
	assert.Nil(t, d.Detect(b.w, trend.Neutral()), "hammer is still forming")

	b.add(candle(98, 98.6, 97.9, 98.5, nil))
	sig := d.Detect(b.w, trend.Neutral())
	require.NotNil(t, sig)
	assert.Equal(t, int64(70), sig.Seq)
}

func TestDetectFakeBreakoutBonus(t *testing.T) {
	b := newBuilder().background(70).
		add(candle(98.10, 98.95, 97.95, 98.00, map[string]float64{market.SMASlow: 96, market.RSI: 75}))
	d := NewDetector(DefaultConfig(), market.CursorBacktest, nil)
	require.NotNil(t, d.Detect(b.w, trend.Neutral()))

	b.add(candle(98.0, 98.3, 97.6, 98.1, nil))
	assert.Nil(t, d.Detect(b.w, trend.Neutral()))

	b.add(hammer(map[string]float64{market.RSI: 25}))
	sig := d.Detect(b.w, trend.Neutral())
	require.NotNil(t, sig)
	assert.True(t, sig.Confirmations.Has(FactorFakeBreakout))
	assert.Equal(t, 5, sig.Score)
}

func TestDetectConsolidationBreakoutReversal(t *testing.T) {
	quiet := map[string]float64{market.ADX: 15, market.ATRPercentile: 10, market.VolumeRatio: 0.5}
	b := newBuilder().background(50)
	for i := 0; i < 15; i++ {
		b.add(candle(100, 100.2, 99.8, 100.1, quiet))
	}
	b.add(candle(100, 100.2, 99.7, 100, nil))
	b.add(candle(98.90, 99.05, 98.05, 99.00, map[string]float64{market.SMASlow: 101}))

	sig := NewDetector(DefaultConfig(), market.CursorBacktest, nil).Detect(b.w, trend.Neutral())
	require.NotNil(t, sig)
	assert.Equal(t, "down", sig.Confirmations.BreakoutDirection)
	assert.True(t, sig.Confirmations.Has(FactorBreakout))
	assert.True(t, sig.Confirmations.Has(FactorBreakoutReversal))
	assert.Equal(t, 6, sig.Score)
	assert.Equal(t, 4, sig.Strength)
}

func TestDetectCarriesTrendSnapshotByValue(t *testing.T) {
	b := newBuilder().background(70).add(hammer(map[string]float64{market.RSI: 25}))
	st := trend.State{Direction: trend.Down, Tier: 4, Confidence: 0.8, Momentum: 0.6, ExpectedDurationBars: 40, ComputedAt: 70}
	sig := NewDetector(DefaultConfig(), market.CursorBacktest, nil).Detect(b.w, st)
	require.NotNil(t, sig)
	st.Tier = 1
	assert.Equal(t, 4, sig.Trend.Tier)
}
