package engine

import "math"

// Leveraged position arithmetic

// MarginRequired is the single authoritative margin figure: notional at the
// entry price divided by leverage.
func MarginRequired(entryPrice, qty, leverage float64) float64 {
	if leverage <= 0 {
		return math.Inf(1)
	}
	return entryPrice * qty / leverage
}

// UnrealizedPnl marks qty opened at entry to mark.
func UnrealizedPnl(side TradeSide, entry, mark, qty float64) float64 {
	return (mark - entry) * side.Sign() * qty
}

// FundingCost charges rate on notional once per started funding interval,
// with a minimum of one interval.
func FundingCost(notional, rate, holdingHours, intervalHours float64) float64 {
	periods := 1.0
	if intervalHours > 0 {
		periods = math.Max(1, holdingHours/intervalHours)
	}
	return notional * rate * periods
}

