package trend

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pinbar-backtest/services/market"
)

func ramp(n int, step float64) []market.Candle {
	cs := make([]market.Candle, n)
	for i := range cs {
		c := 100 + float64(i)*step
		o := c - step*0.6
		cs[i] = market.Candle{
			Timestamp: int64(i) * 300_000,
			Open:      o,
			High:      math.Max(o, c) + 0.2,
			Low:       math.Min(o, c) - 0.2,
			Close:     c,
			Volume:    1000,
		}
	}
	return market.Annotate(cs, market.DefaultAnnotatorConfig())
}

func windowOf(cs []market.Candle) *market.Window {
	w := market.NewWindow(market.DefaultWindowSize)
	for _, c := range cs {
		w.Append(c)
	}
	return w
}

func TestClassifyNeutralWithFewBars(t *testing.T) {
	w := windowOf(ramp(40, 0.5))
	s := NewClassifier(DefaultConfig()).Classify(w, w.Len()-1)
	assert.Equal(t, Neutral(), s)
}

func TestClassifyUptrend(t *testing.T) {
	w := windowOf(ramp(150, 0.5))
	s := NewClassifier(DefaultConfig()).Classify(w, w.Len()-1)
	assert.Equal(t, Up, s.Direction)
	assert.Equal(t, 5, s.Tier)
	assert.Greater(t, s.Confidence, 0.7)
	assert.True(t, s.IsStrong())
	assert.Equal(t, 100, s.AgeBars)
	assert.False(t, s.VolumeSupport)
	assert.Equal(t, int64(149), s.ComputedAt)
}

func TestClassifyDowntrend(t *testing.T) {
	w := windowOf(ramp(150, -0.4))
	s := NewClassifier(DefaultConfig()).Classify(w, w.Len()-1)
	assert.Equal(t, Down, s.Direction)
	assert.True(t, s.Opposed(1))
	assert.True(t, s.Aligned(-1))
}

func TestClassifyIsIdempotent(t *testing.T) {
	w := windowOf(ramp(200, 0.3))
	c := NewClassifier(DefaultConfig())
	a := c.Classify(w, w.Len()-1)
	b := c.Classify(w, w.Len()-1)
	assert.Equal(t, a, b)
}

func TestTrackerCadence(t *testing.T) {
	cs := ramp(120, 0.5)
	w := market.NewWindow(market.DefaultWindowSize)
	tr := NewTracker(DefaultConfig())

	var first State
	for i, c := range cs {
		w.Append(c)
		s := tr.Update(w, w.Len()-1)
		switch i {
		case 69:
			first = s
			require.Equal(t, int64(69), s.ComputedAt)
		case 70, 71, 72, 73:
			assert.Equal(t, first, s, "bar %d reuses snapshot", i)
		case 74:
			assert.Equal(t, int64(74), s.ComputedAt)
		}
	}
}

func TestStateHelpers(t *testing.T) {
	s := State{Direction: Up, Tier: 3, Confidence: 0.5, Momentum: 0.5, ExpectedDurationBars: 20}
	assert.InDelta(t, 0.10, s.DynamicTargetPct(), 1e-12)
	assert.InDelta(t, 0.015, s.TrailingDistancePct(), 1e-12)
	s.VolatilityExpansion = true
	assert.InDelta(t, 0.0195, s.TrailingDistancePct(), 1e-12)
	assert.False(t, s.IsStrong())
	assert.False(t, s.ShouldHold())

	bad := State{Direction: "north", Tier: 9, Confidence: math.NaN()}.Sanitized()
	assert.Equal(t, Sideways, bad.Direction)
	assert.Equal(t, 1, bad.Tier)
	assert.Equal(t, 0.5, bad.Confidence)
}
