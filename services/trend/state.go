// Package trend classifies the prevailing trend of a candle window.
package trend

import "math"

type Direction string

const (
	Up       Direction = "up"
	Down     Direction = "down"
	Sideways Direction = "sideways"
)

// State is a snapshot of the trend at one bar. It is a plain value; copies
// held by signals and positions never change when the tracker recomputes.
type State struct {
	Direction            Direction `json:"direction"`
	Tier                 int       `json:"tier"`
	Confidence           float64   `json:"confidence"`
	Momentum             float64   `json:"momentum"`
	VolumeSupport        bool      `json:"volume_support"`
	BreakoutStrength     float64   `json:"breakout_strength"`
	VolatilityExpansion  bool      `json:"volatility_expansion"`
	AgeBars              int       `json:"age_bars"`
	ExpectedDurationBars int       `json:"expected_duration_bars"`
	ComputedAt           int64     `json:"computed_at"`
}

// Neutral is used when there is not enough data, and as the fallback for any
// missing field.
func Neutral() State {
	return State{
		Direction:            Sideways,
		Tier:                 1,
		Confidence:           0.5,
		Momentum:             0.5,
		ExpectedDurationBars: 5,
		ComputedAt:           -1,
	}
}

// Sanitized replaces missing or out-of-range fields with neutral values.
func (s State) Sanitized() State {
	n := Neutral()
	switch s.Direction {
	case Up, Down, Sideways:
	default:
		s.Direction = n.Direction
	}
	if s.Tier < 1 || s.Tier > 5 {
		s.Tier = n.Tier
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		s.Confidence = n.Confidence
	}
	if math.IsNaN(s.Momentum) || s.Momentum < 0 || s.Momentum > 1 {
		s.Momentum = n.Momentum
	}
	if math.IsNaN(s.BreakoutStrength) || s.BreakoutStrength < 0 {
		s.BreakoutStrength = 0
	}
	if s.ExpectedDurationBars <= 0 {
		s.ExpectedDurationBars = n.ExpectedDurationBars
	}
	return s
}

func (s State) IsStrong() bool { return s.Tier >= 3 && s.Confidence >= 0.7 }

func (s State) ShouldHold() bool { return s.Tier >= 3 && s.Confidence >= 0.6 && s.Momentum >= 0.5 }

// ShouldExtendTarget reports whether a position up profitPct (fraction) may
// push its target further out.
func (s State) ShouldExtendTarget(profitPct float64) bool {
	return profitPct >= 0.003 && s.Tier >= 2 && s.Confidence >= 0.4
}

var targetByTier = [...]float64{0.02, 0.035, 0.06, 0.10, 0.15}

// DynamicTargetPct is the target distance as a fraction of entry.
func (s State) DynamicTargetPct() float64 {
	s = s.Sanitized()
	return targetByTier[s.Tier-1] + math.Min(0.05, s.Confidence*0.08)
}

// TrailingDistancePct is the trailing stop distance as a fraction of price.
func (s State) TrailingDistancePct() float64 {
	d := 0.01
	if s.Tier >= 3 {
		d *= 1.5
	}
	if s.VolatilityExpansion {
		d *= 1.3
	}
	return d
}

// Aligned reports whether the trend agrees with a long (sign > 0) or short.
func (s State) Aligned(sign float64) bool {
	return (sign > 0 && s.Direction == Up) || (sign < 0 && s.Direction == Down)
}

// Opposed reports whether the trend runs against a long (sign > 0) or short.
func (s State) Opposed(sign float64) bool {
	return (sign > 0 && s.Direction == Down) || (sign < 0 && s.Direction == Up)
}
