// Package market holds the candle model, the bounded sliding window the decision
// core reads from, and the feeds that produce annotated candles.
package market

import (
	"errors"
	"math"
)

// Indicator names attached to each candle by the annotator.
const (
	SMAFast       = "sma_fast"
	SMASlow       = "sma_slow"
	SMATrend      = "sma_trend"
	EMAFast       = "ema_fast"
	EMASlow       = "ema_slow"
	RSI           = "rsi"
	ATR           = "atr"
	ADX           = "adx"
	PlusDI        = "plus_di"
	MinusDI       = "minus_di"
	BBUpper       = "bb_upper"
	BBMiddle      = "bb_middle"
	BBLower       = "bb_lower"
	VolumeRatio   = "volume_ratio"
	ATRPercentile = "atr_percentile"
	ROC           = "roc"
	Momentum      = "momentum"
	MACD          = "macd"
)

var ErrNoData = errors.New("no candles loaded")

// Candle is a single OHLCV bar plus the indicator values computed up to and
// including it. Treat as immutable once appended to a Window.
type Candle struct {
	Timestamp  int64 // open time, ms
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	Indicators map[string]float64
}

// Indicator returns the named value or NaN when it was never computed.
func (c Candle) Indicator(name string) float64 {
	if c.Indicators == nil {
		return math.NaN()
	}
	v, ok := c.Indicators[name]
	if !ok {
		return math.NaN()
	}
	return v
}

// Valid reports whether the OHLC fields are finite and internally consistent.
func (c Candle) Valid() bool {
	for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	if math.IsNaN(c.Volume) || c.Volume < 0 {
		return false
	}
	return c.High >= c.Low && c.High >= math.Max(c.Open, c.Close) && c.Low <= math.Min(c.Open, c.Close)
}

func (c Candle) Range() float64 { return c.High - c.Low }

func (c Candle) Body() float64 { return math.Abs(c.Close - c.Open) }

func (c Candle) UpperShadow() float64 { return c.High - math.Max(c.Open, c.Close) }

func (c Candle) LowerShadow() float64 { return math.Min(c.Open, c.Close) - c.Low }
