// Package signal detects pin-bar formations on the newest closed bar and
// scores the confirmations around them.
package signal

import (
	"pinbar-backtest/services/engine"
	"pinbar-backtest/services/trend"
)

type Formation string

const (
	Hammer       Formation = "hammer"
	ShootingStar Formation = "shooting_star"
)

// Side is the trade direction a formation implies.
func (f Formation) Side() engine.TradeSide {
	if f == Hammer {
		return engine.TradeSideBuy
	}
	return engine.TradeSideSell
}

// Factor names one confirmation rule.
type Factor string

const (
	FactorRSI              Factor = "rsi_extreme"
	FactorTrend            Factor = "trend_alignment"
	FactorKeyLevel         Factor = "key_level"
	FactorVolume           Factor = "volume_surge"
	FactorBollinger        Factor = "bollinger_edge"
	FactorBreakout         Factor = "consolidation_breakout"
	FactorBreakoutReversal Factor = "breakout_reversal"
	FactorFakeBreakout     Factor = "fake_breakout_reversal"
)

// Points awarded per factor.
var factorPoints = map[Factor]int{
	FactorRSI:              2,
	FactorTrend:            1,
	FactorKeyLevel:         1,
	FactorVolume:           1,
	FactorBollinger:        1,
	FactorBreakout:         3,
	FactorBreakoutReversal: 2,
	FactorFakeBreakout:     2,
}

type ScoreEntry struct {
	Factor Factor  `json:"factor"`
	Points int     `json:"points"`
	Value  float64 `json:"value"`
}

// Scorecard accumulates awarded factors in the order they were checked.
type Scorecard struct {
	Entries           []ScoreEntry `json:"entries"`
	BreakoutDirection string       `json:"breakout_direction,omitempty"`
}

func (s *Scorecard) award(f Factor, value float64) {
	s.Entries = append(s.Entries, ScoreEntry{Factor: f, Points: factorPoints[f], Value: value})
}

func (s Scorecard) Has(f Factor) bool {
	for _, e := range s.Entries {
		if e.Factor == f {
			return true
		}
	}
	return false
}

func (s Scorecard) Score() int {
	n := 0
	for _, e := range s.Entries {
		n += e.Points
	}
	return n
}

// Signal is one accepted formation on a closed bar.
type Signal struct {
	Seq       int64            `json:"seq"`
	Timestamp int64            `json:"timestamp"`
	Direction engine.TradeSide `json:"direction"`
	Formation Formation        `json:"formation"`

	Open            float64 `json:"open"`
	High            float64 `json:"high"`
	Low             float64 `json:"low"`
	Close           float64 `json:"close"`
	Body            float64 `json:"body"`
	UpperShadow     float64 `json:"upper_shadow"`
	LowerShadow     float64 `json:"lower_shadow"`
	Range           float64 `json:"range"`
	ShadowBodyRatio float64 `json:"shadow_body_ratio"`
	BodyRangeRatio  float64 `json:"body_range_ratio"`
	ATR             float64 `json:"atr"`

	Confirmations Scorecard `json:"confirmations"`
	Score         int       `json:"score"`
	Strength      int       `json:"strength"`
	Confidence    float64   `json:"confidence"`

	Entry    float64    `json:"entry"`
	StopLoss float64    `json:"stop_loss"`
	Targets  [3]float64 `json:"targets"`

	Trend trend.State `json:"trend"`
}
