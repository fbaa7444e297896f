package signal

import (
	"math"

	"pinbar-backtest/services/market"
)

type level struct {
	price      float64
	support    bool
	activeFrom int64
}

type zone struct {
	startSeq, endSeq int64
	high, low        float64
}

// structureCache tracks pivot levels and consolidation zones keyed by absolute
// sequence. Each bar is scanned exactly once; a window reset forces a rescan.
type structureCache struct {
	cfg        Config
	generation uint64
	scanned    int64
	levels     []level
	zones      []zone

	runStart      int64
	runLen        int
	runHigh       float64
	runLow        float64
	lastLargeMove int64

	// scans counts sync calls that processed at least one new bar.
	scans int
}

func newStructureCache(cfg Config) structureCache {
	c := structureCache{cfg: cfg}
	c.reset(0)
	return c
}

func (c *structureCache) reset(generation uint64) {
	c.generation = generation
	c.scanned = -1
	c.levels = c.levels[:0]
	c.zones = c.zones[:0]
	c.runLen = 0
	c.lastLargeMove = math.MinInt64 / 2
}

// sync scans every bar newer than the last scanned one, up to window index at.
func (c *structureCache) sync(w *market.Window, at int) {
	if c.generation != w.Generation() {
		c.reset(w.Generation())
	}
	target := w.SeqAt(at)
	if target <= c.scanned {
		return
	}
	from := c.scanned + 1
	if oldest := w.SeqAt(0); from < oldest {
		// bars were evicted unseen; an open run cannot be trusted
		from = oldest
		c.runLen = 0
	}
	for seq := from; seq <= target; seq++ {
		i, _ := w.IndexOf(seq)
		c.scan(w, i, seq)
	}
	c.scanned = target
	c.prune(target)
	c.scans++
}

func (c *structureCache) scan(w *market.Window, i int, seq int64) {
	cur := w.At(i)
	if i > 0 {
		if prev := w.At(i - 1).Close; prev > 0 && math.Abs(cur.Close/prev-1) > c.cfg.LargeMovePct {
			c.lastLargeMove = seq
		}
	}

	adx, atrp, vr := cur.Indicator(market.ADX), cur.Indicator(market.ATRPercentile), cur.Indicator(market.VolumeRatio)
	quiet := market.Finite(adx, atrp, vr) &&
		adx < c.cfg.ZoneMaxADX &&
		atrp < c.cfg.ZoneMaxATRPercentile &&
		vr < c.cfg.ZoneMaxVolumeRatio &&
		seq-c.lastLargeMove > int64(c.cfg.LargeMoveExcludeBars)
	if quiet {
		if c.runLen == 0 {
			c.runStart, c.runHigh, c.runLow = seq, cur.High, cur.Low
		} else {
			c.runHigh = math.Max(c.runHigh, cur.High)
			c.runLow = math.Min(c.runLow, cur.Low)
		}
		c.runLen++
	} else {
		if c.runLen >= c.cfg.ZoneMinBars {
			c.zones = append(c.zones, zone{startSeq: c.runStart, endSeq: seq - 1, high: c.runHigh, low: c.runLow})
		}
		c.runLen = 0
	}

	// A pivot at p is only known once PivotLookback bars have closed after it.
	lb := c.cfg.PivotLookback
	p := i - lb
	if p-lb < 0 {
		return
	}
	hi, lo := w.At(p).High, w.At(p).Low
	isHigh, isLow := true, true
	for j := p - lb; j <= i; j++ {
		b := w.At(j)
		if b.High > hi {
			isHigh = false
		}
		if b.Low < lo {
			isLow = false
		}
	}
	if isHigh {
		c.addLevel(level{price: hi, support: false, activeFrom: seq})
	}
	if isLow {
		c.addLevel(level{price: lo, support: true, activeFrom: seq})
	}
}

func (c *structureCache) addLevel(l level) {
	for i, e := range c.levels {
		if e.support == l.support && e.price == l.price {
			c.levels[i].activeFrom = l.activeFrom
			return
		}
	}
	c.levels = append(c.levels, l)
}

func (c *structureCache) prune(now int64) {
	keep := c.levels[:0]
	for _, l := range c.levels {
		if now-l.activeFrom <= int64(c.cfg.LevelLifetime) {
			keep = append(keep, l)
		}
	}
	c.levels = keep

	zs := c.zones[:0]
	for _, z := range c.zones {
		if now-z.endSeq <= int64(c.cfg.BreakoutWindow) {
			zs = append(zs, z)
		}
	}
	c.zones = zs
}

// nearestLevel returns the active level of the given kind closest to price.
func (c *structureCache) nearestLevel(support bool, price float64) (float64, bool) {
	best, found := 0.0, false
	for _, l := range c.levels {
		if l.support != support {
			continue
		}
		if !found || math.Abs(l.price-price) < math.Abs(best-price) {
			best, found = l.price, true
		}
	}
	return best, found
}

// recentZone returns the latest zone that ended within BreakoutWindow bars
// before seq.
func (c *structureCache) recentZone(seq int64) (zone, bool) {
	for i := len(c.zones) - 1; i >= 0; i-- {
		z := c.zones[i]
		if z.endSeq < seq && seq-z.endSeq <= int64(c.cfg.BreakoutWindow) {
			return z, true
		}
	}
	return zone{}, false
}
