package engine

import "pinbar-backtest/services/market"

// FillPriceLimit is the deterministic fill for a limit order touched within
// the candle; an open through the level fills at the open. Zero means untouched.
func FillPriceLimit(side TradeSide, limit float64, c market.Candle) float64 {
	if side == TradeSideBuy {
		if c.Low <= limit {
			if c.Open <= limit {
				return c.Open
			}
			return limit
		}
		return 0
	}
	if c.High >= limit {
		if c.Open >= limit {
			return c.Open
		}
		return limit
	}
	return 0
}

// FillPriceStopMarket is the fill for a stop that triggers within the candle;
// a gap through the stop fills at the open. Zero means not triggered.
func FillPriceStopMarket(side TradeSide, stop float64, c market.Candle) float64 {
	if side == TradeSideBuy {
		if c.High >= stop {
			if c.Open >= stop {
				return c.Open
			}
			return stop
		}
		return 0
	}
	if c.Low <= stop {
		if c.Open <= stop {
			return c.Open
		}
		return stop
	}
	return 0
}
