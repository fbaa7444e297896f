package engine

import "math"

// Exchange filters and slippage models

type SymbolFilters struct {
	PriceTick   float64 `yaml:"price_tick" validate:"gte=0"`
	QtyStep     float64 `yaml:"qty_step" validate:"gte=0"`
	NotionalMin float64 `yaml:"notional_min" validate:"gte=0"`
}

type SlippageModel interface {
	Apply(side TradeSide, price float64) float64
}

// FixedTicksSlippage moves the fill against the order by a fixed price amount.
type FixedTicksSlippage struct{ Ticks float64 }

func (s FixedTicksSlippage) Apply(side TradeSide, price float64) float64 {
	return price + side.Sign()*s.Ticks
}

// PercentSlippage moves the fill against the order by Rate of the price.
type PercentSlippage struct{ Rate float64 }

func (s PercentSlippage) Apply(side TradeSide, price float64) float64 {
	return price * (1 + side.Sign()*s.Rate)
}

// EnforceFilters rounds price and quantity to the symbol steps. A quantity that
// rounds to zero or misses the minimum notional comes back as zero.
func EnforceFilters(f SymbolFilters, price, qty float64) (float64, float64) {
	if f.PriceTick > 0 {
		price = roundStep(price, f.PriceTick)
	}
	if f.QtyStep > 0 {
		qty = floorStep(qty, f.QtyStep)
	}
	if f.NotionalMin > 0 && price*qty < f.NotionalMin {
		qty = 0
	}
	return price, qty
}

func roundStep(v, step float64) float64 {
	return math.Round(v/step) * step
}

// floorStep never rounds a quantity up past what was asked for.
func floorStep(v, step float64) float64 {
	return math.Floor(v/step+1e-9) * step
}
