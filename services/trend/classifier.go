package trend

import (
	"math"

	"pinbar-backtest/services/market"
)

// Config holds classifier thresholds.
type Config struct {
	MinBars          int     `yaml:"min_bars" validate:"gte=30"`
	Cadence          int     `yaml:"cadence" validate:"gte=1"`
	PriceDeadband    float64 `yaml:"price_deadband" validate:"gt=0,lt=0.2"`
	DIMargin         float64 `yaml:"di_margin" validate:"gt=1"`
	BreakoutLookback int     `yaml:"breakout_lookback" validate:"gte=2"`
	VolatilityBars   int     `yaml:"volatility_bars" validate:"gte=2"`
	VolatilityRatio  float64 `yaml:"volatility_ratio" validate:"gt=1"`
	VolumeSurge      float64 `yaml:"volume_surge" validate:"gt=0"`
	StatBars         int     `yaml:"stat_bars" validate:"gte=5"`
}

func DefaultConfig() Config {
	return Config{
		MinBars:          60,
		Cadence:          5,
		PriceDeadband:    0.01,
		DIMargin:         1.1,
		BreakoutLookback: 20,
		VolatilityBars:   10,
		VolatilityRatio:  1.3,
		VolumeSurge:      1.5,
		StatBars:         20,
	}
}

// ADX breakpoints separating tiers 1..5.
var tierBreaks = [...]float64{20, 30, 40, 60}

var durationByTier = [...]float64{5, 10, 20, 40, 80}

// Classifier is stateless; the same window always yields the same State.
type Classifier struct {
	cfg Config
}

func NewClassifier(cfg Config) *Classifier { return &Classifier{cfg: cfg} }

// Classify evaluates the trend at window index at.
func (c *Classifier) Classify(w *market.Window, at int) State {
	if at < 0 || at >= w.Len() || at+1 < c.cfg.MinBars {
		return Neutral()
	}
	cur := w.At(at)
	s := Neutral()
	s.ComputedAt = w.SeqAt(at)
	s.Direction = c.direction(cur)
	s.Tier = tierFor(cur.Indicator(market.ADX))
	s.Confidence = c.confidence(cur, s.Direction)
	s.Momentum = c.momentum(w, at)
	s.VolumeSupport = c.volumeSupport(cur, s.Direction)
	s.BreakoutStrength = c.breakout(w, at, s.Direction)
	s.VolatilityExpansion = c.volatilityExpansion(w, at)
	s.AgeBars = age(w, at, s.Direction)
	s.ExpectedDurationBars = c.duration(s)
	return s.Sanitized()
}

func (c *Classifier) direction(cur market.Candle) Direction {
	var up, down int

	fast, slow, trendMA := cur.Indicator(market.EMAFast), cur.Indicator(market.EMASlow), cur.Indicator(market.SMATrend)
	if market.Finite(fast, slow, trendMA) {
		if fast > slow && slow > trendMA {
			up++
		} else if fast < slow && slow < trendMA {
			down++
		}
	}
	if market.Finite(trendMA) && trendMA > 0 {
		if cur.Close > trendMA*(1+c.cfg.PriceDeadband) {
			up++
		} else if cur.Close < trendMA*(1-c.cfg.PriceDeadband) {
			down++
		}
	}
	pdi, mdi := cur.Indicator(market.PlusDI), cur.Indicator(market.MinusDI)
	if market.Finite(pdi, mdi) {
		if pdi > mdi*c.cfg.DIMargin {
			up++
		} else if pdi < mdi/c.cfg.DIMargin {
			down++
		}
	}

	switch {
	case up >= 2 && up > down:
		return Up
	case down >= 2 && down > up:
		return Down
	}
	return Sideways
}

func tierFor(adx float64) int {
	if !market.Finite(adx) {
		return 1
	}
	for i, b := range tierBreaks {
		if adx < b {
			return i + 1
		}
	}
	return 5
}

type weighted struct {
	weight, value float64
}

func (c *Classifier) confidence(cur market.Candle, dir Direction) float64 {
	var parts []weighted

	if adx := cur.Indicator(market.ADX); market.Finite(adx) {
		parts = append(parts, weighted{0.30, math.Min(adx/60, 1)})
	}

	fast, slow, trendMA := cur.Indicator(market.EMAFast), cur.Indicator(market.EMASlow), cur.Indicator(market.SMATrend)
	if market.Finite(fast, slow, trendMA) {
		v := 0.5
		switch dir {
		case Up:
			v = maScore(fast > slow && slow > trendMA, fast > slow)
		case Down:
			v = maScore(fast < slow && slow < trendMA, fast < slow)
		}
		parts = append(parts, weighted{0.30, v})
	}

	roc, mom := cur.Indicator(market.ROC), cur.Indicator(market.Momentum)
	if market.Finite(roc, mom) {
		v := 0.5
		switch dir {
		case Up:
			if roc > 0 && mom > 0 {
				v = 0.8
			} else if roc < 0 && mom < 0 {
				v = 0.4
			}
		case Down:
			if roc < 0 && mom < 0 {
				v = 0.8
			} else if roc > 0 && mom > 0 {
				v = 0.4
			}
		case Sideways:
			if math.Abs(roc) < 1 && math.Abs(mom) < 10 {
				v = 0.7
			}
		}
		parts = append(parts, weighted{0.25, v})
	}

	mid, upper, lower := cur.Indicator(market.BBMiddle), cur.Indicator(market.BBUpper), cur.Indicator(market.BBLower)
	if market.Finite(mid, upper, lower) {
		v := 0.5
		switch dir {
		case Up:
			if cur.Close > mid {
				v = 0.7
			}
		case Down:
			if cur.Close < mid {
				v = 0.7
			}
		case Sideways:
			v = 0.4
			if width := upper - lower; width > 0 && math.Abs(cur.Close-mid)/width < 0.3 {
				v = 0.8
			}
		}
		parts = append(parts, weighted{0.15, v})
	}

	var sw, sv float64
	for _, p := range parts {
		sw += p.weight
		sv += p.weight * p.value
	}
	if sw == 0 {
		return 0.5
	}
	return market.Clamp(sv/sw, 0, 1)
}

func maScore(full, partial bool) float64 {
	switch {
	case full:
		return 1.0
	case partial:
		return 0.7
	}
	return 0.3
}

func (c *Classifier) momentum(w *market.Window, at int) float64 {
	cur := w.At(at)
	var scores []float64
	if roc := cur.Indicator(market.ROC); market.Finite(roc) {
		scores = append(scores, math.Min(math.Abs(roc)/10, 1))
	}
	from := at - c.cfg.StatBars + 1
	for _, name := range []string{market.Momentum, market.MACD} {
		v := cur.Indicator(name)
		if !market.Finite(v) {
			continue
		}
		sd := market.StdDev(w.Series(from, at, market.IndicatorFn(name)))
		if market.Finite(sd) && sd > 0 {
			scores = append(scores, math.Min(math.Abs(v)/(2*sd), 1))
		}
	}
	if len(scores) == 0 {
		return 0.5
	}
	return market.Mean(scores)
}

func (c *Classifier) volumeSupport(cur market.Candle, dir Direction) bool {
	vr := cur.Indicator(market.VolumeRatio)
	if !market.Finite(vr) {
		return false
	}
	if dir == Sideways {
		return vr < c.cfg.VolumeSurge
	}
	return vr >= c.cfg.VolumeSurge
}

// breakout measures the close against the extreme of the previous
// BreakoutLookback bars, not including the current one.
func (c *Classifier) breakout(w *market.Window, at int, dir Direction) float64 {
	if dir == Sideways || at < c.cfg.BreakoutLookback {
		return 0
	}
	cur := w.At(at)
	hi, lo := math.Inf(-1), math.Inf(1)
	for i := at - c.cfg.BreakoutLookback; i < at; i++ {
		b := w.At(i)
		hi = math.Max(hi, b.High)
		lo = math.Min(lo, b.Low)
	}
	var pct float64
	if dir == Up && cur.Close > hi {
		pct = (cur.Close - hi) / hi
	} else if dir == Down && cur.Close < lo {
		pct = (lo - cur.Close) / lo
	}
	return math.Min(pct/0.02, 1)
}

func (c *Classifier) volatilityExpansion(w *market.Window, at int) bool {
	atr := w.At(at).Indicator(market.ATR)
	if !market.Finite(atr) || at < c.cfg.VolatilityBars {
		return false
	}
	avg := market.Mean(w.Series(at-c.cfg.VolatilityBars, at-1, market.IndicatorFn(market.ATR)))
	if !market.Finite(avg) || avg <= 0 {
		return false
	}
	return atr/avg > c.cfg.VolatilityRatio
}

func age(w *market.Window, at int, dir Direction) int {
	if dir == Sideways {
		return 0
	}
	n := 0
	for i := at; i > 0 && n < 100; i-- {
		cur, prev := w.At(i).Close, w.At(i-1).Close
		if (dir == Up && cur > prev) || (dir == Down && cur < prev) {
			n++
			continue
		}
		break
	}
	return n
}

func (c *Classifier) duration(s State) int {
	d := durationByTier[s.Tier-1]
	if s.Momentum > 0.7 {
		d *= 1.5
	}
	if s.VolumeSupport {
		d *= 1.3
	}
	if s.BreakoutStrength > 0.5 {
		d *= 1.4
	}
	return int(math.Round(d))
}
