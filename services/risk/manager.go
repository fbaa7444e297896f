// Package risk turns confirmed pin-bar signals into leveraged positions and
// manages them bar by bar: sizing, dynamic leverage, stops and targets,
// trailing, the partial-close ladder, cost accounting and the account loss
// breaker.
package risk

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pinbar-backtest/services/engine"
	"pinbar-backtest/services/market"
	"pinbar-backtest/services/signal"
	"pinbar-backtest/services/trend"
)

var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrInvalidStop        = errors.New("invalid stop distance")
	ErrInvalidSize        = errors.New("invalid position size")
	ErrBreakerTripped     = errors.New("loss breaker tripped")
	ErrCapacity           = errors.New("position capacity reached")
)

type pending struct {
	sig    signal.Signal
	window int
}

// BarReport is what happened on one bar.
type BarReport struct {
	Seq            int64
	Opened         []string
	Closed         []Trade
	Partials       int
	Expired        int
	Rejected       int
	Equity         decimal.Decimal
	Drawdown       float64
	BreakerTripped bool
	Skipped        bool
}

// Manager owns the ledger and every position of one run. It is strictly
// single-writer and must see each bar exactly once, in order.
type Manager struct {
	cfg    Config
	symbol string
	broker engine.Broker
	events *engine.EventLog
	logger *zap.Logger

	ledger  *Ledger
	open    []*Position
	pending []pending
	trades  []Trade
	nextID  int
	lastSeq int64
	lastBar market.Candle
}

func NewManager(cfg Config, symbol string, broker engine.Broker, events *engine.EventLog, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if broker == nil {
		return nil, fmt.Errorf("risk: nil broker")
	}
	if events == nil {
		events = &engine.EventLog{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		symbol:  symbol,
		broker:  broker,
		events:  events,
		logger:  logger.With(zap.String("symbol", symbol)),
		ledger:  NewLedger(cfg.InitialCash),
		lastSeq: -1,
	}, nil
}

func (m *Manager) Ledger() *Ledger          { return m.ledger }
func (m *Manager) Trades() []Trade          { return m.trades }
func (m *Manager) Events() *engine.EventLog { return m.events }
func (m *Manager) PendingCount() int        { return len(m.pending) }

// Positions returns copies of the open positions.
func (m *Manager) Positions() []Position {
	out := make([]Position, len(m.open))
	for i, p := range m.open {
		out[i] = *p
	}
	return out
}

// OnBar processes one closed bar: exits first, then updates on surviving
// positions, then pending confirmations, then the new signal if any. The
// error is only for out-of-order bars.
func (m *Manager) OnBar(c market.Candle, seq int64, st trend.State, sig *signal.Signal) (BarReport, error) {
	if seq <= m.lastSeq {
		return BarReport{}, fmt.Errorf("risk: bar seq %d not after %d", seq, m.lastSeq)
	}
	m.lastSeq = seq
	rep := BarReport{Seq: seq}
	st = st.Sanitized()

	if !c.Valid() {
		m.emit(c.Timestamp, seq, engine.EventBarSkipped, map[string]string{"reason": "malformed candle"})
		m.logger.Debug("Skipping malformed bar", zap.Int64("seq", seq))
		rep.Skipped = true
		rep.Equity = m.equityAt(m.lastBar)
		rep.BreakerTripped = m.ledger.BreakerTripped
		return rep, nil
	}
	m.lastBar = c

	m.checkInvariants(c, seq)
	m.exits(c, seq, &rep)
	m.updates(c, seq, st, &rep)
	m.resolvePending(c, seq, &rep)

	if sig != nil {
		m.accept(*sig, seq)
	}

	rep.Equity = m.equityAt(c)
	rep.Drawdown = m.ledger.Drawdown
	rep.BreakerTripped = m.ledger.BreakerTripped
	return rep, nil
}

// Finish closes every open position at the last bar's close and drops
// pending signals.
func (m *Manager) Finish() []Trade {
	var closed []Trade
	for len(m.open) > 0 {
		p := m.open[0]
		closed = append(closed, m.closeAll(p, m.lastBar, m.lastSeq, m.lastBar.Close, ReasonEndOfData))
	}
	m.pending = m.pending[:0]
	return closed
}

// Equity is cash plus reserved margin plus open P&L at the last close.
func (m *Manager) Equity() decimal.Decimal { return m.equityAt(m.lastBar) }

// OpenPnL is P&L attributable to still-open positions: booked partial
// tranches plus unrealized P&L on the remaining size.
func (m *Manager) OpenPnL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.open {
		total = total.Add(p.realizedNet()).Add(decimal.NewFromFloat(p.Unrealized(m.lastBar.Close)))
	}
	return total
}

func (m *Manager) Summary() Summary {
	return Summarize(m.trades, m.ledger, m.Equity(), m.OpenPnL())
}

func (m *Manager) equityAt(c market.Candle) decimal.Decimal {
	eq := m.ledger.Booked()
	for _, p := range m.open {
		eq = eq.Add(decimal.NewFromFloat(p.Unrealized(c.Close)))
	}
	return eq
}

func (m *Manager) checkInvariants(c market.Candle, seq int64) {
	for _, p := range m.open {
		if p.MarginConsistent(m.cfg.InvariantTolerance) {
			continue
		}
		want := p.ExpectedMargin()
		delta := decimal.NewFromFloat(want).Sub(p.reserved)
		m.logger.Warn("Margin invariant violated, recomputing",
			zap.String("position", p.ID),
			zap.Float64("reserved", p.MarginReserved),
			zap.Float64("expected", want),
		)
		m.ledger.Reserve(delta)
		p.reserved = p.reserved.Add(delta)
		p.MarginReserved = want
		m.emit(c.Timestamp, seq, engine.EventInvariantRepaired, map[string]string{
			"position": p.ID,
			"delta":    delta.String(),
		})
	}
}

func (m *Manager) exits(c market.Candle, seq int64, rep *BarReport) {
	if len(m.open) > 0 {
		dd := m.ledger.Mark(m.equityAt(c))
		if dd >= m.cfg.LossBreakerPct && !m.ledger.BreakerTripped {
			m.trip(c, seq, dd, rep)
			return
		}
	}

	survivors := m.open[:0:0]
	for _, p := range append([]*Position(nil), m.open...) {
		exit := p.Direction.Opposite()
		var price float64
		var reason string
		switch {
		case p.TrailingArmed && engine.FillPriceStopMarket(exit, p.TrailingStop, c) > 0:
			price, reason = engine.FillPriceStopMarket(exit, p.TrailingStop, c), ReasonTrailing
		case engine.FillPriceStopMarket(exit, p.StopLoss, c) > 0:
			price, reason = engine.FillPriceStopMarket(exit, p.StopLoss, c), ReasonStopLoss
		case !p.TrendTracking && engine.FillPriceLimit(exit, p.TakeProfit, c) > 0:
			price, reason = engine.FillPriceLimit(exit, p.TakeProfit, c), ReasonTakeProfit
		case m.cfg.MaxHoldingBars > 0 && seq-p.EntrySeq >= int64(m.cfg.MaxHoldingBars):
			price, reason = c.Close, ReasonTimeExit
		}
		if reason == "" {
			survivors = append(survivors, p)
			continue
		}
		rep.Closed = append(rep.Closed, m.closeAll(p, c, seq, price, reason))
	}
	m.open = survivors
	// realized stop losses can breach the ceiling with nothing left open
	if dd := m.ledger.Mark(m.equityAt(c)); dd >= m.cfg.LossBreakerPct && !m.ledger.BreakerTripped {
		m.trip(c, seq, dd, rep)
	}
}

// trip closes everything at the close and blocks entries for the rest of the run.
func (m *Manager) trip(c market.Candle, seq int64, dd float64, rep *BarReport) {
	m.ledger.Trip()
	m.logger.Warn("Account loss breaker tripped",
		zap.Int64("seq", seq),
		zap.Float64("drawdown", dd),
		zap.Int("open_positions", len(m.open)),
	)
	m.emit(c.Timestamp, seq, engine.EventBreakerTripped, map[string]string{
		"drawdown": strconv.FormatFloat(dd, 'f', 6, 64),
	})
	for len(m.open) > 0 {
		rep.Closed = append(rep.Closed, m.closeAll(m.open[0], c, seq, c.Close, ReasonBreaker))
	}
	m.pending = m.pending[:0]
}

func (m *Manager) updates(c market.Candle, seq int64, st trend.State, rep *BarReport) {
	for _, p := range append([]*Position(nil), m.open...) {
		sign := p.sign()
		p.HighestPrice = math.Max(p.HighestPrice, c.High)
		p.LowestPrice = math.Min(p.LowestPrice, c.Low)
		profit := p.ProfitPct(c.Close)
		p.MaxProfitPct = math.Max(p.MaxProfitPct, profit)

		dist := trend.Neutral().TrailingDistancePct()
		if p.TrendTracking {
			if st.ShouldHold() && st.Aligned(sign) {
				dist = st.TrailingDistancePct()
				if st.IsStrong() && st.ShouldExtendTarget(profit) {
					target := p.EntryPrice * (1 + sign*st.DynamicTargetPct())
					if (target-p.TakeProfit)*sign > 0 {
						p.TakeProfit = target
					}
				}
			} else {
				p.TrendTracking = false
				p.TakeProfit += (c.Close - p.TakeProfit) / 2
				m.logger.Debug("Trend tracking stopped",
					zap.String("position", p.ID),
					zap.Float64("take_profit", p.TakeProfit),
				)
			}
		}

		if p.TrailingArmed || profit >= m.cfg.TrailActivationPct {
			p.tighten(c.Close * (1 - sign*dist))
		}

		for p.PartialStage < len(m.cfg.PartialLadder) && p.Size > 0 {
			step := m.cfg.PartialLadder[p.PartialStage]
			if profit < step.ProfitPct {
				break
			}
			qty := math.Min(step.Fraction*p.OriginalSize, p.Size)
			p.PartialStage++
			m.reduce(p, c, seq, qty, c.Close, ReasonPartial)
			rep.Partials++
		}

		if p.PartialStage == len(m.cfg.PartialLadder) && len(m.cfg.PartialLadder) > 0 && p.Size > 0 {
			if !(st.Tier >= m.cfg.RunnerMinTier && st.Aligned(sign)) {
				p.PartialStage++
				rep.Closed = append(rep.Closed, m.closeAll(p, c, seq, c.Close, ReasonRunner))
			}
		}
	}
}

func (m *Manager) resolvePending(c market.Candle, seq int64, rep *BarReport) {
	keep := m.pending[:0]
	for _, pd := range m.pending {
		age := seq - pd.sig.Seq
		sign := pd.sig.Direction.Sign()
		if (c.Close-pd.sig.Close)*sign > 0 {
			if id, err := m.open1(pd.sig, c, seq); err != nil {
				rep.Rejected++
				m.logger.Debug("Signal not opened", zap.Int64("signal_seq", pd.sig.Seq), zap.Error(err))
			} else {
				rep.Opened = append(rep.Opened, id)
			}
			continue
		}
		if age >= int64(pd.window) {
			rep.Expired++
			m.emit(c.Timestamp, seq, engine.EventSignalExpired, map[string]string{
				"signal_seq": strconv.FormatInt(pd.sig.Seq, 10),
			})
			continue
		}
		keep = append(keep, pd)
	}
	m.pending = keep
}

func (m *Manager) accept(sig signal.Signal, seq int64) {
	if m.ledger.BreakerTripped {
		m.emit(sig.Timestamp, seq, engine.EventSignalRejected, map[string]string{"reason": ErrBreakerTripped.Error()})
		return
	}
	for _, pd := range m.pending {
		if pd.sig.Seq == sig.Seq {
			return
		}
	}
	w := m.cfg.ConfirmBarsWeak
	if sig.Trend.IsStrong() && sig.Trend.Aligned(sig.Direction.Sign()) {
		w = m.cfg.ConfirmBarsStrong
	}
	m.pending = append(m.pending, pending{sig: sig, window: w})
	m.emit(sig.Timestamp, seq, engine.EventSignal, map[string]string{
		"direction": string(sig.Direction),
		"score":     strconv.Itoa(sig.Score),
		"window":    strconv.Itoa(w),
	})
}

// Leverage is base leverage scaled by signal quality, trend tier, trend
// alignment and trend confidence, clamped to [MinLeverage, MaxLeverage].
func (m *Manager) Leverage(sig signal.Signal) float64 {
	return DynamicLeverage(m.cfg, sig)
}

var tierFactor = [...]float64{0.8, 0.9, 1.0, 1.1, 1.2}

func DynamicLeverage(cfg Config, sig signal.Signal) float64 {
	st := sig.Trend.Sanitized()
	strength := market.Clamp(float64(sig.Strength), 1, 5)
	quality := 0.8 + 0.4*(strength-1)/4
	align := 1.0
	switch {
	case st.Aligned(sig.Direction.Sign()):
		align = 1.1
	case st.Opposed(sig.Direction.Sign()):
		align = 0.9
	}
	conf := 0.8 + 0.4*st.Confidence
	lev := cfg.BaseLeverage * quality * tierFactor[st.Tier-1] * align * conf
	return market.Clamp(lev, cfg.MinLeverage, cfg.MaxLeverage())
}

// SizeFor returns the risk-capped size, the margin-capped size, and the
// smaller of the two.
func SizeFor(cfg Config, equity, cash, entry, stop, leverage float64) (riskSize, marginSize, size float64) {
	dist := math.Abs(entry - stop)
	if !(dist > 0) || !(entry > 0) {
		return 0, 0, 0
	}
	riskSize = cfg.RiskPerTrade * equity / dist
	marginSize = cfg.MaxMarginPerTradePct * cash * leverage / entry
	return riskSize, marginSize, math.Min(riskSize, marginSize)
}

func (m *Manager) open1(sig signal.Signal, c market.Candle, seq int64) (string, error) {
	if m.ledger.BreakerTripped || m.ledger.Drawdown >= m.cfg.LossBreakerPct {
		return "", ErrBreakerTripped
	}
	if len(m.open) >= m.cfg.MaxOpenPositions {
		m.emit(c.Timestamp, seq, engine.EventSignalRejected, map[string]string{"reason": ErrCapacity.Error()})
		return "", ErrCapacity
	}

	side := sig.Direction
	sign := side.Sign()
	entry := c.Close
	dist := (entry - sig.StopLoss) * sign
	if !(dist > 0) {
		m.emit(c.Timestamp, seq, engine.EventSignalRejected, map[string]string{"reason": ErrInvalidStop.Error()})
		return "", fmt.Errorf("%w: entry %g stop %g", ErrInvalidStop, entry, sig.StopLoss)
	}
	dist = math.Min(dist, m.cfg.StopLossPct*entry)
	stop := entry - sign*dist

	tpDist := math.Max((sig.Targets[0]-entry)*sign, m.cfg.TakeProfitPct*entry)
	target := entry + sign*tpDist

	lev := m.Leverage(sig)
	equity := m.equityAt(c).InexactFloat64()
	cash := m.ledger.Cash.InexactFloat64()
	_, _, size := SizeFor(m.cfg, equity, cash, entry, stop, lev)
	if !(size > 0) || math.IsInf(size, 0) {
		m.emit(c.Timestamp, seq, engine.EventSignalRejected, map[string]string{"reason": ErrInvalidSize.Error()})
		return "", fmt.Errorf("%w: %g", ErrInvalidSize, size)
	}

	margin := engine.MarginRequired(entry, size, lev)
	if m.ledger.Reserved.InexactFloat64()+margin > m.cfg.MaxTotalMargin*equity {
		m.emit(c.Timestamp, seq, engine.EventSignalRejected, map[string]string{"reason": "total margin cap"})
		return "", fmt.Errorf("%w: total margin %.2f over cap", ErrCapacity, m.ledger.Reserved.InexactFloat64()+margin)
	}
	if avail := cash * m.cfg.MarginSafetyFactor; margin > avail {
		shortfall := margin - avail
		m.emit(c.Timestamp, seq, engine.EventInsufficientMargin, map[string]string{
			"required":  strconv.FormatFloat(margin, 'f', 2, 64),
			"available": strconv.FormatFloat(avail, 'f', 2, 64),
			"shortfall": strconv.FormatFloat(shortfall, 'f', 2, 64),
		})
		m.logger.Info("Insufficient margin",
			zap.Int64("signal_seq", sig.Seq),
			zap.Float64("required", margin),
			zap.Float64("available", avail),
			zap.Float64("shortfall", shortfall),
		)
		return "", fmt.Errorf("%w: short %.2f", ErrInsufficientMargin, shortfall)
	}

	ack, err := m.broker.Fill(engine.FillRequest{Side: side, Size: size, Price: entry})
	if err != nil {
		m.emit(c.Timestamp, seq, engine.EventFillRejected, map[string]string{"error": err.Error()})
		m.logger.Warn("Entry fill rejected", zap.Int64("signal_seq", sig.Seq), zap.Error(err))
		return "", fmt.Errorf("open %s: %w", side, err)
	}
	if ack.FilledSize < size {
		// Full fill is assumed; the shortfall is only recorded.
		m.emit(c.Timestamp, seq, engine.EventPartialFill, map[string]string{
			"requested": strconv.FormatFloat(size, 'f', -1, 64),
			"filled":    strconv.FormatFloat(ack.FilledSize, 'f', -1, 64),
		})
		m.logger.Warn("Partial entry fill, assuming full",
			zap.Float64("requested", size),
			zap.Float64("filled", ack.FilledSize),
		)
	}

	m.nextID++
	p := &Position{
		ID:             fmt.Sprintf("PB%04d", m.nextID),
		Symbol:         m.symbol,
		Direction:      side,
		Formation:      sig.Formation,
		Score:          sig.Score,
		EntryPrice:     entry,
		EntryFill:      ack.FilledPrice,
		Size:           size,
		OriginalSize:   size,
		Leverage:       lev,
		StopLoss:       stop,
		TakeProfit:     target,
		Targets:        sig.Targets,
		MarginReserved: margin,
		EntryCost:      m.cfg.TakerFee*ack.FilledPrice*size + math.Abs(ack.FilledPrice-entry)*size,
		EquityAtEntry:  equity,
		HighestPrice:   entry,
		LowestPrice:    entry,
		EntryTrend:     sig.Trend.Sanitized(),
		EntrySeq:       seq,
		EntryTime:      c.Timestamp,
		reserved:       decimal.NewFromFloat(margin),
	}
	p.TrendTracking = p.EntryTrend.IsStrong() && p.EntryTrend.Aligned(sign)
	m.ledger.Reserve(p.reserved)
	m.open = append(m.open, p)

	m.emit(c.Timestamp, seq, engine.EventPositionOpen, map[string]string{
		"id":       p.ID,
		"side":     string(side),
		"entry":    strconv.FormatFloat(entry, 'f', -1, 64),
		"size":     strconv.FormatFloat(size, 'f', -1, 64),
		"leverage": strconv.FormatFloat(lev, 'f', 3, 64),
	})
	m.logger.Info("Opened position",
		zap.String("id", p.ID),
		zap.String("side", string(side)),
		zap.Float64("entry", entry),
		zap.Float64("size", size),
		zap.Float64("leverage", lev),
		zap.Float64("stop_loss", stop),
		zap.Float64("take_profit", target),
		zap.Float64("margin", margin),
	)
	return p.ID, nil
}

// reduce books a tranche of qty at mark and releases its margin share.
func (m *Manager) reduce(p *Position, c market.Candle, seq int64, qty, mark float64, reason string) {
	if qty <= 0 {
		return
	}
	exitSide := p.Direction.Opposite()
	fill := mark
	ack, err := m.broker.Fill(engine.FillRequest{Side: exitSide, Size: qty, Price: mark})
	if err != nil {
		m.emit(c.Timestamp, seq, engine.EventFillRejected, map[string]string{"position": p.ID, "error": err.Error()})
		m.logger.Warn("Exit fill rejected, booking at mark", zap.String("position", p.ID), zap.Error(err))
	} else {
		fill = ack.FilledPrice
		if ack.FilledSize < qty {
			m.emit(c.Timestamp, seq, engine.EventPartialFill, map[string]string{
				"position":  p.ID,
				"requested": strconv.FormatFloat(qty, 'f', -1, 64),
				"filled":    strconv.FormatFloat(ack.FilledSize, 'f', -1, 64),
			})
		}
	}

	d := decimal.NewFromFloat
	q := d(qty)
	share := p.reserved
	if qty < p.Size {
		share = p.reserved.Mul(q).Div(d(p.Size))
	}
	hours := float64(c.Timestamp-p.EntryTime) / 3_600_000
	t := tranche{
		seq:        seq,
		ts:         c.Timestamp,
		qty:        qty,
		exitMark:   mark,
		exitFill:   fill,
		reason:     reason,
		margin:     share,
		gross:      d(mark).Sub(d(p.EntryPrice)).Mul(d(p.sign())).Mul(q),
		commission: d(m.cfg.TakerFee).Mul(d(p.EntryFill)).Add(d(m.exitFee(reason)).Mul(d(fill))).Mul(q),
		slippage:   d(math.Abs(p.EntryFill - p.EntryPrice)).Add(d(math.Abs(fill - mark))).Mul(q),
		funding:    d(engine.FundingCost(p.EntryPrice*qty, m.cfg.FundingRate, hours, m.cfg.FundingIntervalHours)),
	}
	t.net = t.gross.Sub(t.commission).Sub(t.slippage).Sub(t.funding)

	p.realized = append(p.realized, t)
	p.reserved = p.reserved.Sub(share)
	if qty >= p.Size {
		p.Size = 0
		p.MarginReserved = 0
	} else {
		p.MarginReserved -= p.MarginReserved * qty / p.Size
		p.Size -= qty
	}
	m.ledger.Settle(share, t.net)

	if reason == ReasonPartial {
		m.emit(c.Timestamp, seq, engine.EventPartialClose, map[string]string{
			"position": p.ID,
			"stage":    strconv.Itoa(p.PartialStage),
			"qty":      strconv.FormatFloat(qty, 'f', -1, 64),
			"net":      t.net.StringFixed(2),
		})
		m.logger.Info("Partial close",
			zap.String("position", p.ID),
			zap.Int("stage", p.PartialStage),
			zap.Float64("qty", qty),
			zap.Float64("price", mark),
			zap.String("net", t.net.StringFixed(2)),
		)
	}
}

// exitFee is the maker rate for take-profit limit fills and the taker rate
// for every market exit.
func (m *Manager) exitFee(reason string) float64 {
	if reason == ReasonTakeProfit {
		return m.cfg.MakerFee
	}
	return m.cfg.TakerFee
}

// closeAll closes the remaining size, removes the position and records the trade.
func (m *Manager) closeAll(p *Position, c market.Candle, seq int64, mark float64, reason string) Trade {
	m.reduce(p, c, seq, p.Size, mark, reason)
	for i, o := range m.open {
		if o == p {
			m.open = append(m.open[:i], m.open[i+1:]...)
			break
		}
	}
	tr := m.trade(p, c, seq, reason)
	m.trades = append(m.trades, tr)
	m.emit(c.Timestamp, seq, engine.EventPositionClose, map[string]string{
		"id":     tr.ID,
		"reason": reason,
		"net":    tr.NetPnL.StringFixed(2),
	})
	m.logger.Info("Closed position",
		zap.String("id", tr.ID),
		zap.String("reason", reason),
		zap.String("exit_price", tr.ExitPrice.StringFixed(4)),
		zap.String("net_pnl", tr.NetPnL.StringFixed(2)),
		zap.String("return_pct", tr.ReturnPct.StringFixed(2)),
	)
	return tr
}

func (m *Manager) trade(p *Position, c market.Candle, seq int64, reason string) Trade {
	d := decimal.NewFromFloat
	var gross, comm, slip, fund, net, weighted decimal.Decimal
	partials := 0
	for _, t := range p.realized {
		gross = gross.Add(t.gross)
		comm = comm.Add(t.commission)
		slip = slip.Add(t.slippage)
		fund = fund.Add(t.funding)
		net = net.Add(t.net)
		weighted = weighted.Add(d(t.exitMark).Mul(d(t.qty)))
		if t.reason == ReasonPartial {
			partials++
		}
	}
	size := d(p.OriginalSize)
	margin := d(engine.MarginRequired(p.EntryPrice, p.OriginalSize, p.Leverage))
	tr := Trade{
		ID:           p.ID,
		Symbol:       p.Symbol,
		Direction:    p.Direction,
		Formation:    p.Formation,
		Score:        p.Score,
		EntryPrice:   d(p.EntryPrice),
		Size:         size,
		Leverage:     d(p.Leverage),
		Margin:       margin,
		GrossPnL:     gross,
		Commission:   comm,
		Slippage:     slip,
		Funding:      fund,
		TotalCost:    comm.Add(slip).Add(fund),
		NetPnL:       net,
		EntryTime:    p.EntryTime,
		ExitTime:     c.Timestamp,
		HoldingBars:  int(seq - p.EntrySeq),
		HoldingHours: d(float64(c.Timestamp-p.EntryTime) / 3_600_000),
		ExitReason:   reason,
		Partials:     partials,
		TrendTier:    p.EntryTrend.Tier,
	}
	if size.IsPositive() {
		tr.ExitPrice = weighted.Div(size)
	}
	if margin.IsPositive() {
		tr.ReturnPct = net.Div(margin).Mul(hundred)
	}
	if p.EquityAtEntry > 0 {
		tr.MarginRatio = margin.Div(d(p.EquityAtEntry))
	}
	return tr
}

func (m *Manager) emit(ts, seq int64, t engine.EventType, details map[string]string) {
	m.events.Append(engine.Event{Ts: ts, Seq: seq, Type: t, Symbol: m.symbol, Details: details})
}
