package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"pinbar-backtest/services/engine"
	"pinbar-backtest/services/signal"
	"pinbar-backtest/services/trend"
)

// Exit reasons recorded on trades and tranches.
const (
	ReasonBreaker    = "account protection"
	ReasonTrailing   = "trailing stop"
	ReasonStopLoss   = "stop loss"
	ReasonTakeProfit = "take profit"
	ReasonTimeExit   = "time exit"
	ReasonPartial    = "partial"
	ReasonRunner     = "runner exit"
	ReasonEndOfData  = "end of data"
)

// tranche is one realized slice of a position.
type tranche struct {
	seq        int64
	ts         int64
	qty        float64
	exitMark   float64
	exitFill   float64
	reason     string
	margin     decimal.Decimal
	gross      decimal.Decimal
	commission decimal.Decimal
	slippage   decimal.Decimal
	funding    decimal.Decimal
	net        decimal.Decimal
}

// Position is one open leveraged position. Size only shrinks; the trailing
// stop only tightens.
type Position struct {
	ID        string
	Symbol    string
	Direction engine.TradeSide
	Formation signal.Formation
	Score     int

	EntryPrice   float64
	EntryFill    float64
	Size         float64
	OriginalSize float64
	Leverage     float64

	StopLoss      float64
	TrailingStop  float64
	TakeProfit    float64
	Targets       [3]float64
	TrailingArmed bool
	PartialStage  int

	MarginReserved float64
	EntryCost      float64
	EquityAtEntry  float64

	MaxProfitPct  float64
	HighestPrice  float64
	LowestPrice   float64
	TrendTracking bool
	EntryTrend    trend.State

	EntrySeq  int64
	EntryTime int64

	reserved decimal.Decimal
	realized []tranche
}

func (p *Position) sign() float64 { return p.Direction.Sign() }

// ProfitPct is the unrealized move at mark as a fraction of entry, positive in
// the position's favor.
func (p *Position) ProfitPct(mark float64) float64 {
	return (mark - p.EntryPrice) / p.EntryPrice * p.sign()
}

func (p *Position) Unrealized(mark float64) float64 {
	return engine.UnrealizedPnl(p.Direction, p.EntryPrice, mark, p.Size)
}

// PartialCloses is how many ladder or runner closes have happened.
func (p *Position) PartialCloses() int { return p.PartialStage }

// ExpectedMargin is the margin the current size should hold.
func (p *Position) ExpectedMargin() float64 {
	return engine.MarginRequired(p.EntryPrice, p.Size, p.Leverage)
}

// MarginConsistent reports whether reserved margin matches entry*size/leverage
// within the relative tolerance.
func (p *Position) MarginConsistent(tol float64) bool {
	want := p.ExpectedMargin()
	return math.Abs(p.MarginReserved-want) <= tol*math.Max(1, math.Abs(want))
}

// tighten moves the trailing stop to level only if that is tighter.
func (p *Position) tighten(level float64) {
	if !p.TrailingArmed {
		p.TrailingArmed = true
		p.TrailingStop = level
		return
	}
	if p.sign() > 0 {
		p.TrailingStop = math.Max(p.TrailingStop, level)
	} else {
		p.TrailingStop = math.Min(p.TrailingStop, level)
	}
}

// realizedNet sums booked tranche P&L.
func (p *Position) realizedNet() decimal.Decimal {
	n := decimal.Zero
	for _, t := range p.realized {
		n = n.Add(t.net)
	}
	return n
}
