// Package arrowpipeline serializes candles and trades as Apache Arrow IPC
// streams for columnar consumers.
package arrowpipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/decimal128"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pinbar-backtest/services/config"
	"pinbar-backtest/services/market"
	"pinbar-backtest/services/risk"
)

const (
	indicatorPrefix = "ind."
	symbolKey       = "symbol"
	moneyScale      = 8
)

var (
	ErrNoRows = errors.New("arrow: nothing to convert")

	moneyType = &arrow.Decimal128Type{Precision: 38, Scale: moneyScale}
)

// Pipeline converts between domain values and Arrow IPC streams. Records are
// cut every BatchSize rows.
type Pipeline struct {
	config config.ArrowConfig
	mem    memory.Allocator
	logger *zap.Logger
}

// NewPipeline uses the Go allocator when mem is nil.
func NewPipeline(cfg config.ArrowConfig, mem memory.Allocator, logger *zap.Logger) *Pipeline {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8192
	}
	return &Pipeline{config: cfg, mem: mem, logger: logger}
}

func candleSchema(symbol string, indicators []string) *arrow.Schema {
	fields := []arrow.Field{
		{Name: "timestamp", Type: arrow.FixedWidthTypes.Timestamp_ms},
		{Name: "open", Type: arrow.PrimitiveTypes.Float64},
		{Name: "high", Type: arrow.PrimitiveTypes.Float64},
		{Name: "low", Type: arrow.PrimitiveTypes.Float64},
		{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	}
	for _, name := range indicators {
		fields = append(fields, arrow.Field{Name: indicatorPrefix + name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	md := arrow.NewMetadata([]string{symbolKey}, []string{symbol})
	return arrow.NewSchema(fields, &md)
}

// indicatorNames is the sorted union of indicator keys over cs.
func indicatorNames(cs []market.Candle) []string {
	seen := map[string]struct{}{}
	for _, c := range cs {
		for k := range c.Indicators {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// WriteCandles streams cs to w. Indicators missing on a candle are null.
func (p *Pipeline) WriteCandles(w io.Writer, symbol string, cs []market.Candle) error {
	if len(cs) == 0 {
		return ErrNoRows
	}
	names := indicatorNames(cs)
	schema := candleSchema(symbol, names)

	b := array.NewRecordBuilder(p.mem, schema)
	defer b.Release()
	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(p.mem))

	flush := func() error {
		rec := b.NewRecord()
		defer rec.Release()
		if err := writer.Write(rec); err != nil {
			return fmt.Errorf("failed to write Arrow record: %w", err)
		}
		return nil
	}

	for i, c := range cs {
		b.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(c.Timestamp))
		for j, v := range [...]float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
			b.Field(1 + j).(*array.Float64Builder).Append(v)
		}
		for j, name := range names {
			fb := b.Field(6 + j).(*array.Float64Builder)
			if v, ok := c.Indicators[name]; ok {
				fb.Append(v)
			} else {
				fb.AppendNull()
			}
		}
		if (i+1)%p.config.BatchSize == 0 {
			if err := flush(); err != nil {
				writer.Close()
				return err
			}
		}
	}
	if len(cs)%p.config.BatchSize != 0 {
		if err := flush(); err != nil {
			writer.Close()
			return err
		}
	}
	p.logger.Debug("Wrote Arrow candles", zap.String("symbol", symbol), zap.Int("rows", len(cs)), zap.Int("indicators", len(names)))
	return writer.Close()
}

// CandlesToArrow is WriteCandles into a byte slice.
func (p *Pipeline) CandlesToArrow(symbol string, cs []market.Candle) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.WriteCandles(&buf, symbol, cs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CandlesFromArrow reads a stream written by WriteCandles.
func (p *Pipeline) CandlesFromArrow(data []byte) (string, []market.Candle, error) {
	rdr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(p.mem))
	if err != nil {
		return "", nil, fmt.Errorf("open Arrow stream: %w", err)
	}
	defer rdr.Release()

	schema := rdr.Schema()
	symbol := ""
	if i := schema.Metadata().FindKey(symbolKey); i >= 0 {
		symbol = schema.Metadata().Values()[i]
	}
	col := func(name string) (int, error) {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return 0, fmt.Errorf("arrow: missing column %q", name)
		}
		return idx[0], nil
	}
	base := make([]int, 0, 6)
	for _, name := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		i, err := col(name)
		if err != nil {
			return "", nil, err
		}
		base = append(base, i)
	}
	type indCol struct {
		name string
		idx  int
	}
	var inds []indCol
	for i, f := range schema.Fields() {
		if name, ok := strings.CutPrefix(f.Name, indicatorPrefix); ok {
			inds = append(inds, indCol{name, i})
		}
	}

	var out []market.Candle
	for rdr.Next() {
		rec := rdr.Record()
		ts := rec.Column(base[0]).(*array.Timestamp)
		floats := make([]*array.Float64, 5)
		for j := range floats {
			floats[j] = rec.Column(base[1+j]).(*array.Float64)
		}
		for r := 0; r < int(rec.NumRows()); r++ {
			c := market.Candle{
				Timestamp: int64(ts.Value(r)),
				Open:      floats[0].Value(r),
				High:      floats[1].Value(r),
				Low:       floats[2].Value(r),
				Close:     floats[3].Value(r),
				Volume:    floats[4].Value(r),
			}
			for _, ic := range inds {
				a := rec.Column(ic.idx).(*array.Float64)
				if a.IsNull(r) {
					continue
				}
				if c.Indicators == nil {
					c.Indicators = make(map[string]float64, len(inds))
				}
				c.Indicators[ic.name] = a.Value(r)
			}
			out = append(out, c)
		}
	}
	if err := rdr.Err(); err != nil {
		return "", nil, fmt.Errorf("read Arrow stream: %w", err)
	}
	return symbol, out, nil
}

var tradeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "trade_id", Type: arrow.BinaryTypes.String},
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "side", Type: arrow.BinaryTypes.String},
	{Name: "formation", Type: arrow.BinaryTypes.String},
	{Name: "score", Type: arrow.PrimitiveTypes.Uint8},
	{Name: "trend_tier", Type: arrow.PrimitiveTypes.Uint8},
	{Name: "entry_time", Type: arrow.FixedWidthTypes.Timestamp_ms},
	{Name: "exit_time", Type: arrow.FixedWidthTypes.Timestamp_ms},
	{Name: "entry_price", Type: moneyType},
	{Name: "exit_price", Type: moneyType},
	{Name: "size", Type: moneyType},
	{Name: "leverage", Type: moneyType},
	{Name: "margin", Type: moneyType},
	{Name: "gross_pnl", Type: moneyType},
	{Name: "total_cost", Type: moneyType},
	{Name: "net_pnl", Type: moneyType},
	{Name: "exit_reason", Type: arrow.BinaryTypes.String},
	{Name: "holding_bars", Type: arrow.PrimitiveTypes.Uint32},
}, nil)

// WriteTrades streams trades to w in a single record. An empty slice still
// writes the schema.
func (p *Pipeline) WriteTrades(w io.Writer, trades []risk.Trade) error {
	b := array.NewRecordBuilder(p.mem, tradeSchema)
	defer b.Release()

	for _, t := range trades {
		b.Field(0).(*array.StringBuilder).Append(t.ID)
		b.Field(1).(*array.StringBuilder).Append(t.Symbol)
		b.Field(2).(*array.StringBuilder).Append(string(t.Direction))
		b.Field(3).(*array.StringBuilder).Append(string(t.Formation))
		b.Field(4).(*array.Uint8Builder).Append(uint8(t.Score))
		b.Field(5).(*array.Uint8Builder).Append(uint8(t.TrendTier))
		b.Field(6).(*array.TimestampBuilder).Append(arrow.Timestamp(t.EntryTime))
		b.Field(7).(*array.TimestampBuilder).Append(arrow.Timestamp(t.ExitTime))
		for j, d := range [...]decimal.Decimal{t.EntryPrice, t.ExitPrice, t.Size, t.Leverage, t.Margin, t.GrossPnL, t.TotalCost, t.NetPnL} {
			b.Field(8 + j).(*array.Decimal128Builder).Append(toNum(d))
		}
		b.Field(16).(*array.StringBuilder).Append(t.ExitReason)
		b.Field(17).(*array.Uint32Builder).Append(uint32(t.HoldingBars))
	}

	rec := b.NewRecord()
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(tradeSchema), ipc.WithAllocator(p.mem))
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write Arrow record: %w", err)
	}
	return writer.Close()
}

// TradesToArrow is WriteTrades into a byte slice.
func (p *Pipeline) TradesToArrow(trades []risk.Trade) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.WriteTrades(&buf, trades); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toNum(d decimal.Decimal) decimal128.Num {
	return decimal128.FromBigInt(d.Shift(moneyScale).Round(0).BigInt())
}

func fromNum(n decimal128.Num) decimal.Decimal {
	return decimal.NewFromBigInt(n.BigInt(), -moneyScale)
}
