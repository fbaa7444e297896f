package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	l := NewLedger(10000)
	l.Mark(decimal.NewFromInt(9500))
	trades := []Trade{
		{NetPnL: decimal.NewFromInt(100), Commission: decimal.NewFromInt(2), HoldingHours: decimal.NewFromInt(3), ExitReason: ReasonTakeProfit},
		{NetPnL: decimal.NewFromInt(-50), Commission: decimal.NewFromInt(1), Funding: decimal.NewFromInt(1), HoldingHours: decimal.NewFromInt(1), ExitReason: ReasonStopLoss},
	}
	s := Summarize(trades, l, decimal.NewFromInt(10050), decimal.Zero)

	assert.Equal(t, 2, s.TotalTrades)
	assert.Equal(t, 1, s.Wins)
	assert.True(t, s.WinRate.Equal(decimal.NewFromInt(50)))
	assert.True(t, s.NetPnlUsd.Equal(decimal.NewFromInt(50)))
	assert.True(t, s.ProfitFactor.Equal(decimal.NewFromInt(2)))
	assert.True(t, s.Expectancy.Equal(decimal.NewFromInt(25)), s.Expectancy.String())
	assert.True(t, s.Commission.Equal(decimal.NewFromInt(3)))
	assert.True(t, s.AvgHoldingTimeHours.Equal(decimal.NewFromInt(2)))
	assert.True(t, s.MaxDrawdown.Equal(decimal.NewFromInt(5)), s.MaxDrawdown.String())
	assert.Equal(t, []string{ReasonStopLoss, ReasonTakeProfit}, s.SortedReasons())
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, NewLedger(1000), decimal.NewFromInt(1000), decimal.Zero)
	assert.Zero(t, s.TotalTrades)
	assert.True(t, s.FinalEquity.Equal(decimal.NewFromInt(1000)))
	assert.NotNil(t, s.ExitReasons)
}

func TestSummarizeBreakevenAndNoLosses(t *testing.T) {
	trades := []Trade{
		{NetPnL: decimal.NewFromInt(40), ExitReason: ReasonTakeProfit},
		{NetPnL: decimal.Zero, ExitReason: ReasonTimeExit},
		{NetPnL: decimal.NewFromInt(20), ExitReason: ReasonTrailing},
		{NetPnL: decimal.Zero, ExitReason: ReasonTimeExit},
	}
	s := Summarize(trades, NewLedger(10000), decimal.NewFromInt(10060), decimal.Zero)

	assert.Equal(t, 2, s.Wins)
	assert.Zero(t, s.Losses)
	assert.Equal(t, 2, s.Breakeven)
	assert.Equal(t, s.TotalTrades, s.Wins+s.Losses+s.Breakeven)
	assert.True(t, s.WinRate.Equal(decimal.NewFromInt(50)))
	assert.True(t, s.AvgLossUsd.IsZero())
	assert.True(t, s.Expectancy.Equal(decimal.NewFromInt(15)), s.Expectancy.String())
	assert.True(t, s.ProfitFactor.Equal(NoLossProfitFactor), s.ProfitFactor.String())
}

func TestSummarizeOnlyBreakeven(t *testing.T) {
	trades := []Trade{{NetPnL: decimal.Zero, ExitReason: ReasonTimeExit}}
	s := Summarize(trades, NewLedger(10000), decimal.NewFromInt(10000), decimal.Zero)
	assert.Equal(t, 1, s.Breakeven)
	assert.True(t, s.ProfitFactor.IsZero())
	assert.True(t, s.Expectancy.IsZero())
}
