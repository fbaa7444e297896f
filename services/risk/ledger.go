package risk

import "github.com/shopspring/decimal"

// Ledger is the account state of one run. Only the Manager writes to it.
type Ledger struct {
	Initial  decimal.Decimal
	Cash     decimal.Decimal
	Reserved decimal.Decimal

	EquityPeak     decimal.Decimal
	Drawdown       float64
	MaxDrawdown    float64
	BreakerTripped bool
}

func NewLedger(initial float64) *Ledger {
	v := decimal.NewFromFloat(initial)
	return &Ledger{Initial: v, Cash: v, EquityPeak: v}
}

// Reserve moves margin from cash into the reserved bucket.
func (l *Ledger) Reserve(margin decimal.Decimal) {
	l.Cash = l.Cash.Sub(margin)
	l.Reserved = l.Reserved.Add(margin)
}

// Settle releases a margin share back to cash and books the tranche net P&L.
func (l *Ledger) Settle(margin, net decimal.Decimal) {
	l.Reserved = l.Reserved.Sub(margin)
	l.Cash = l.Cash.Add(margin).Add(net)
}

// Mark records equity at the bar close and returns the drawdown from peak.
func (l *Ledger) Mark(equity decimal.Decimal) float64 {
	if equity.GreaterThan(l.EquityPeak) {
		l.EquityPeak = equity
	}
	l.Drawdown = 0
	if l.EquityPeak.IsPositive() {
		l.Drawdown = l.EquityPeak.Sub(equity).Div(l.EquityPeak).InexactFloat64()
	}
	if l.Drawdown > l.MaxDrawdown {
		l.MaxDrawdown = l.Drawdown
	}
	return l.Drawdown
}

func (l *Ledger) Trip() { l.BreakerTripped = true }

// Booked is cash plus reserved margin, i.e. equity without open P&L.
func (l *Ledger) Booked() decimal.Decimal { return l.Cash.Add(l.Reserved) }
