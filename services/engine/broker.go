package engine

import (
	"errors"
	"fmt"
	"math"
)

var ErrFillRejected = errors.New("fill rejected")

type FillRequest struct {
	Side  TradeSide
	Size  float64
	Price float64
}

type FillAck struct {
	FilledSize  float64
	FilledPrice float64
}

// Broker acknowledges fills. The decision core only needs price and size back.
type Broker interface {
	Fill(req FillRequest) (FillAck, error)
}

// SimBroker fills at the requested mark moved by the slippage model and
// rounded to the symbol filters.
type SimBroker struct {
	Filters  SymbolFilters
	Slippage SlippageModel
	// MaxSize caps a single fill when positive; anything above fills partially.
	MaxSize float64
}

func NewSimBroker(filters SymbolFilters, slippageRate float64) *SimBroker {
	return &SimBroker{Filters: filters, Slippage: PercentSlippage{Rate: slippageRate}}
}

func (b *SimBroker) Fill(req FillRequest) (FillAck, error) {
	if !req.Side.Valid() {
		return FillAck{}, fmt.Errorf("%w: side %q", ErrFillRejected, req.Side)
	}
	if !(req.Size > 0) || !(req.Price > 0) || math.IsInf(req.Size, 0) || math.IsInf(req.Price, 0) {
		return FillAck{}, fmt.Errorf("%w: size=%g price=%g", ErrFillRejected, req.Size, req.Price)
	}
	price := req.Price
	if b.Slippage != nil {
		price = b.Slippage.Apply(req.Side, price)
	}
	size := req.Size
	if b.MaxSize > 0 && size > b.MaxSize {
		size = b.MaxSize
	}
	price, size = EnforceFilters(b.Filters, price, size)
	if size <= 0 {
		return FillAck{}, fmt.Errorf("%w: size %g below lot or notional minimum", ErrFillRejected, req.Size)
	}
	return FillAck{FilledSize: size, FilledPrice: price}, nil
}
