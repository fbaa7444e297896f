package risk

import (
	"sort"

	"github.com/shopspring/decimal"

	"pinbar-backtest/services/engine"
	"pinbar-backtest/services/signal"
)

// Trade is a closed position. Money fields are decimal; costs sum over every
// tranche of the position.
type Trade struct {
	ID        string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Direction engine.TradeSide `json:"direction"`
	Formation signal.Formation `json:"formation"`
	Score     int              `json:"score"`

	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"` // size-weighted over tranches
	Size       decimal.Decimal `json:"size"`
	Leverage   decimal.Decimal `json:"leverage"`
	Margin     decimal.Decimal `json:"margin"`

	GrossPnL    decimal.Decimal `json:"gross_pnl"`
	Commission  decimal.Decimal `json:"commission"`
	Slippage    decimal.Decimal `json:"slippage"`
	Funding     decimal.Decimal `json:"funding"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	NetPnL      decimal.Decimal `json:"net_pnl"`
	ReturnPct   decimal.Decimal `json:"return_pct"`
	MarginRatio decimal.Decimal `json:"margin_ratio"`

	EntryTime    int64           `json:"entry_time"`
	ExitTime     int64           `json:"exit_time"`
	HoldingBars  int             `json:"holding_bars"`
	HoldingHours decimal.Decimal `json:"holding_hours"`
	ExitReason   string          `json:"exit_reason"`
	Partials     int             `json:"partials"`
	TrendTier    int             `json:"trend_tier"`
}

// Summary aggregates a run's trades.
type Summary struct {
	TotalTrades         int             `json:"total_trades"`
	Wins                int             `json:"wins"`
	Losses              int             `json:"losses"`
	Breakeven           int             `json:"breakeven"`
	WinRate             decimal.Decimal `json:"win_rate"`
	NetPnlUsd           decimal.Decimal `json:"net_pnl_usd"`
	GrossPnlUsd         decimal.Decimal `json:"gross_pnl_usd"`
	AvgWinUsd           decimal.Decimal `json:"avg_win_usd"`
	AvgLossUsd          decimal.Decimal `json:"avg_loss_usd"`
	Expectancy          decimal.Decimal `json:"expectancy"`
	MaxDrawdown         decimal.Decimal `json:"max_drawdown"`
	ProfitFactor        decimal.Decimal `json:"profit_factor"`
	AvgHoldingTimeHours decimal.Decimal `json:"avg_holding_time_hours"`
	Commission          decimal.Decimal `json:"commission"`
	Slippage            decimal.Decimal `json:"slippage"`
	Funding             decimal.Decimal `json:"funding"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	InitialEquity       decimal.Decimal `json:"initial_equity"`
	FinalEquity         decimal.Decimal `json:"final_equity"`
	OpenPnl             decimal.Decimal `json:"open_pnl"`
	BreakerTripped      bool            `json:"breaker_tripped"`
	ExitReasons         map[string]int  `json:"exit_reasons"`
}

var hundred = decimal.NewFromInt(100)

// NoLossProfitFactor is reported as ProfitFactor when a run has winners and
// no losing trade.
var NoLossProfitFactor = decimal.NewFromInt(999)

// Summarize computes end-of-run aggregates. finalEquity and openPnl come from
// the Manager; pass the ledger's booked equity and zero once everything is
// closed.
func Summarize(trades []Trade, l *Ledger, finalEquity, openPnl decimal.Decimal) Summary {
	s := Summary{
		TotalTrades:    len(trades),
		InitialEquity:  l.Initial,
		FinalEquity:    finalEquity,
		OpenPnl:        openPnl,
		MaxDrawdown:    decimal.NewFromFloat(l.MaxDrawdown).Mul(hundred),
		BreakerTripped: l.BreakerTripped,
		ExitReasons:    map[string]int{},
	}
	if len(trades) == 0 {
		return s
	}

	var grossProfit, grossLoss, holding decimal.Decimal
	for _, t := range trades {
		s.NetPnlUsd = s.NetPnlUsd.Add(t.NetPnL)
		s.GrossPnlUsd = s.GrossPnlUsd.Add(t.GrossPnL)
		s.Commission = s.Commission.Add(t.Commission)
		s.Slippage = s.Slippage.Add(t.Slippage)
		s.Funding = s.Funding.Add(t.Funding)
		s.TotalCost = s.TotalCost.Add(t.TotalCost)
		holding = holding.Add(t.HoldingHours)
		s.ExitReasons[t.ExitReason]++

		switch t.NetPnL.Sign() {
		case 1:
			s.Wins++
			grossProfit = grossProfit.Add(t.NetPnL)
		case -1:
			s.Losses++
			grossLoss = grossLoss.Add(t.NetPnL.Abs())
		default:
			s.Breakeven++
		}
	}

	n := decimal.NewFromInt(int64(len(trades)))
	s.WinRate = decimal.NewFromInt(int64(s.Wins)).Div(n).Mul(hundred)
	if s.Wins > 0 {
		s.AvgWinUsd = grossProfit.Div(decimal.NewFromInt(int64(s.Wins)))
	}
	if s.Losses > 0 {
		s.AvgLossUsd = grossLoss.Div(decimal.NewFromInt(int64(s.Losses)))
	}
	lossRate := decimal.NewFromInt(int64(s.Losses)).Div(n)
	s.Expectancy = s.WinRate.Div(hundred).Mul(s.AvgWinUsd).Sub(lossRate.Mul(s.AvgLossUsd))
	switch {
	case grossLoss.IsPositive():
		s.ProfitFactor = grossProfit.Div(grossLoss)
	case s.Wins > 0:
		s.ProfitFactor = NoLossProfitFactor
	}
	s.AvgHoldingTimeHours = holding.Div(n)
	return s
}

// SortedReasons returns exit reasons in a stable order for reports.
func (s Summary) SortedReasons() []string {
	out := make([]string, 0, len(s.ExitReasons))
	for r := range s.ExitReasons {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
