package signal

import (
	"math"

	"go.uber.org/zap"

	"pinbar-backtest/services/market"
	"pinbar-backtest/services/trend"
)

const recentSignals = 10

type emitted struct {
	seq       int64
	formation Formation
}

// Detector evaluates one closed bar per call. It owns its structure caches and
// is not safe for concurrent use; give each run its own Detector.
type Detector struct {
	cfg    Config
	mode   market.CursorMode
	logger *zap.Logger

	cache      structureCache
	generation uint64
	lastSeq    int64
	recent     []emitted
}

func NewDetector(cfg Config, mode market.CursorMode, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:     cfg,
		mode:    mode,
		logger:  logger,
		cache:   newStructureCache(cfg),
		lastSeq: -1,
	}
}

// Detect returns a scored signal for the cursor bar, or nil. Each bar is
// evaluated at most once; repeated calls without a new bar return nil. Short
// windows and missing indicators also return nil.
func (d *Detector) Detect(w *market.Window, st trend.State) *Signal {
	at := d.mode.Index(w)
	if at < 0 {
		return nil
	}
	if w.Generation() != d.generation {
		d.generation = w.Generation()
		d.lastSeq = -1
		d.recent = d.recent[:0]
	}
	seq := w.SeqAt(at)
	if seq <= d.lastSeq {
		return nil
	}
	d.lastSeq = seq
	d.cache.sync(w, at)

	if at < 1 || at+1 < d.cfg.MinBars {
		return nil
	}
	cur, prev := w.At(at), w.At(at-1)
	if !cur.Valid() {
		return nil
	}
	smaSlow, rsi, atr := cur.Indicator(market.SMASlow), cur.Indicator(market.RSI), cur.Indicator(market.ATR)
	if !market.Finite(smaSlow, rsi, atr) {
		return nil
	}

	form, ok := d.formation(cur, prev)
	if !ok {
		return nil
	}
	side := form.Side()

	// Trend gate: the close has to sit on the reversal side of the slow MA.
	dev := (cur.Close - smaSlow) / smaSlow
	if (form == Hammer && dev >= -d.cfg.MinTrendDeviation) || (form == ShootingStar && dev <= d.cfg.MinTrendDeviation) {
		return nil
	}

	var card Scorecard
	card.award(FactorTrend, dev)

	if (form == Hammer && rsi <= d.cfg.RSIOversold) || (form == ShootingStar && rsi >= d.cfg.RSIOverbought) {
		card.award(FactorRSI, rsi)
	}

	extreme := cur.Low
	if form == ShootingStar {
		extreme = cur.High
	}
	if lvl, ok := d.cache.nearestLevel(form == Hammer, extreme); ok && math.Abs(extreme-lvl)/cur.Close <= d.cfg.LevelProximityPct {
		card.award(FactorKeyLevel, lvl)
	}

	if vr := cur.Indicator(market.VolumeRatio); market.Finite(vr) && vr > d.cfg.VolumeSurge {
		card.award(FactorVolume, vr)
	}

	if pos, ok := bandPosition(cur); ok {
		if (form == Hammer && pos <= d.cfg.BollingerEdge) || (form == ShootingStar && 1-pos <= d.cfg.BollingerEdge) {
			card.award(FactorBollinger, pos)
		}
	}

	if z, ok := d.cache.recentZone(seq); ok {
		switch {
		case cur.Close > z.high*(1+d.cfg.BreakoutPct):
			card.BreakoutDirection = "up"
		case cur.Close < z.low*(1-d.cfg.BreakoutPct):
			card.BreakoutDirection = "down"
		}
		if card.BreakoutDirection != "" {
			card.award(FactorBreakout, float64(seq-z.endSeq))
			if (form == Hammer && card.BreakoutDirection == "down") || (form == ShootingStar && card.BreakoutDirection == "up") {
				card.award(FactorBreakoutReversal, 0)
			}
		}
	}

	for _, r := range d.recent {
		if ago := seq - r.seq; r.formation != form && ago >= 1 && ago <= int64(d.cfg.FakeBreakoutBars) {
			card.award(FactorFakeBreakout, float64(ago))
			break
		}
	}

	score := card.Score()
	if score < d.cfg.MinScore {
		d.logger.Debug("Pin bar below minimum score",
			zap.Int64("seq", seq),
			zap.String("formation", string(form)),
			zap.Int("score", score),
		)
		return nil
	}

	sig := d.build(cur, seq, form, atr, card, st)
	d.remember(seq, form)
	d.logger.Debug("Signal detected",
		zap.Int64("seq", seq),
		zap.String("direction", string(side)),
		zap.String("formation", string(form)),
		zap.Int("score", sig.Score),
		zap.Int("strength", sig.Strength),
	)
	return sig
}

// formation classifies cur as a hammer or shooting star. Degenerate bars and
// bars fully inside the previous bar's range never qualify.
func (d *Detector) formation(cur, prev market.Candle) (Formation, bool) {
	rng, body := cur.Range(), cur.Body()
	if rng <= 0 || body <= 0 {
		return "", false
	}
	if rng < d.cfg.MinCandleSizePct*cur.Close {
		return "", false
	}
	if cur.High <= prev.High && cur.Low >= prev.Low {
		return "", false
	}
	if body/rng > d.cfg.MaxBodyRatio {
		return "", false
	}
	upper, lower := cur.UpperShadow(), cur.LowerShadow()
	switch {
	case lower >= d.cfg.ShadowBodyRatio*body && upper <= d.cfg.OppositeShadowMax*rng && lower > upper:
		return Hammer, true
	case upper >= d.cfg.ShadowBodyRatio*body && lower <= d.cfg.OppositeShadowMax*rng && upper > lower:
		return ShootingStar, true
	}
	return "", false
}

// bandPosition is where the close sits between the Bollinger bands (0 = lower).
func bandPosition(c market.Candle) (float64, bool) {
	upper, lower := c.Indicator(market.BBUpper), c.Indicator(market.BBLower)
	if !market.Finite(upper, lower) || upper <= lower {
		return 0, false
	}
	return (c.Close - lower) / (upper - lower), true
}

func (d *Detector) build(cur market.Candle, seq int64, form Formation, atr float64, card Scorecard, st trend.State) *Signal {
	side := form.Side()
	shadow := cur.LowerShadow()
	if form == ShootingStar {
		shadow = cur.UpperShadow()
	}
	body, rng := cur.Body(), cur.Range()

	sig := &Signal{
		Seq:             seq,
		Timestamp:       cur.Timestamp,
		Direction:       side,
		Formation:       form,
		Open:            cur.Open,
		High:            cur.High,
		Low:             cur.Low,
		Close:           cur.Close,
		Body:            body,
		UpperShadow:     cur.UpperShadow(),
		LowerShadow:     cur.LowerShadow(),
		Range:           rng,
		ShadowBodyRatio: shadow / body,
		BodyRangeRatio:  body / rng,
		ATR:             atr,
		Confirmations:   card,
		Score:           card.Score(),
		Entry:           cur.Close,
		Trend:           st.Sanitized(),
	}
	sig.Strength = strengthFor(sig.Score)
	if sig.ShadowBodyRatio >= 3 && sig.BodyRangeRatio <= 0.2 && sig.Strength < 5 {
		sig.Strength++
	}
	sig.Confidence = math.Min(float64(sig.Score)/10, 1)

	if side.Sign() > 0 {
		sig.StopLoss = cur.Low - d.cfg.StopATRMult*atr
	} else {
		sig.StopLoss = cur.High + d.cfg.StopATRMult*atr
	}
	risk := math.Abs(cur.Close - sig.StopLoss)
	for i := range sig.Targets {
		rr := 0.0
		if i < len(d.cfg.TargetRR) {
			rr = d.cfg.TargetRR[i]
		}
		sig.Targets[i] = cur.Close + side.Sign()*rr*risk
	}
	return sig
}

func strengthFor(score int) int {
	switch {
	case score >= 10:
		return 5
	case score >= 8:
		return 4
	case score >= 6:
		return 3
	case score >= 4:
		return 2
	}
	return 1
}

func (d *Detector) remember(seq int64, form Formation) {
	d.recent = append(d.recent, emitted{seq: seq, formation: form})
	if len(d.recent) > recentSignals {
		d.recent = d.recent[len(d.recent)-recentSignals:]
	}
}
