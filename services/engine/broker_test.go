package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimBrokerSlippageAgainstOrder(t *testing.T) {
	b := NewSimBroker(SymbolFilters{}, 0.001)
	buy, err := b.Fill(FillRequest{Side: TradeSideBuy, Size: 2, Price: 100})
	require.NoError(t, err)
	assert.InDelta(t, 100.1, buy.FilledPrice, 1e-9)
	assert.Equal(t, 2.0, buy.FilledSize)

	sell, err := b.Fill(FillRequest{Side: TradeSideSell, Size: 2, Price: 100})
	require.NoError(t, err)
	assert.InDelta(t, 99.9, sell.FilledPrice, 1e-9)
}

func TestSimBrokerRejects(t *testing.T) {
	b := NewSimBroker(SymbolFilters{QtyStep: 1}, 0)
	_, err := b.Fill(FillRequest{Side: TradeSideBuy, Size: 0.4, Price: 100})
	assert.ErrorIs(t, err, ErrFillRejected)

	_, err = b.Fill(FillRequest{Side: TradeSideBuy, Size: -1, Price: 100})
	assert.ErrorIs(t, err, ErrFillRejected)

	_, err = b.Fill(FillRequest{Side: "HOLD", Size: 1, Price: 100})
	assert.ErrorIs(t, err, ErrFillRejected)
}

func TestSimBrokerPartial(t *testing.T) {
	b := &SimBroker{MaxSize: 1.5}
	ack, err := b.Fill(FillRequest{Side: TradeSideSell, Size: 3, Price: 50})
	require.NoError(t, err)
	assert.Equal(t, 1.5, ack.FilledSize)
	assert.Equal(t, 50.0, ack.FilledPrice)
}

func TestFundingCostMinimumOnePeriod(t *testing.T) {
	assert.InDelta(t, 1.0, FundingCost(10_000, 0.0001, 2, 8), 1e-12)
	assert.InDelta(t, 2.0, FundingCost(10_000, 0.0001, 16, 8), 1e-12)
}

func TestSnapshotHashStable(t *testing.T) {
	a := SnapshotConfig("test", "1", map[string]string{"a": "1", "b": "2"})
	b := SnapshotConfig("test", "1", map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a.ConfigHash, b.ConfigHash)
}

func TestEnforceFiltersFloorsQty(t *testing.T) {
	p, q := EnforceFilters(SymbolFilters{PriceTick: 0.01, QtyStep: 0.001}, 100.004, 1.2349)
	assert.InDelta(t, 100.0, p, 1e-9)
	assert.InDelta(t, 1.234, q, 1e-9)
}
