// Package engine holds execution plumbing shared by the strategy run: order
// sides, exchange slippage models, bar fill prices, the broker
// collaborator, the event log and run manifests.
package engine

type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// Sign is +1 for buys and -1 for sells.
func (s TradeSide) Sign() float64 {
	if s == TradeSideSell {
		return -1
	}
	return 1
}

func (s TradeSide) Opposite() TradeSide {
	if s == TradeSideBuy {
		return TradeSideSell
	}
	return TradeSideBuy
}

func (s TradeSide) Valid() bool { return s == TradeSideBuy || s == TradeSideSell }
