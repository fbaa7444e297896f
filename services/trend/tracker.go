package trend

import "pinbar-backtest/services/market"

// Tracker re-runs the classifier every Cadence bars and serves the cached
// snapshot in between.
type Tracker struct {
	classifier *Classifier
	cadence    int64
	last       State
	lastSeq    int64
	generation uint64
	valid      bool
}

func NewTracker(cfg Config) *Tracker {
	cadence := int64(cfg.Cadence)
	if cadence < 1 {
		cadence = 1
	}
	return &Tracker{classifier: NewClassifier(cfg), cadence: cadence, last: Neutral()}
}

// Update returns the trend at window index at, recomputing when the cached
// snapshot is Cadence or more bars old.
func (t *Tracker) Update(w *market.Window, at int) State {
	if at < 0 {
		return t.last
	}
	seq := w.SeqAt(at)
	if t.valid && t.generation == w.Generation() && seq >= t.lastSeq && seq-t.lastSeq < t.cadence {
		return t.last
	}
	s := t.classifier.Classify(w, at)
	if s.ComputedAt < 0 {
		// not enough data yet; retry next bar
		t.last = s
		return s
	}
	t.last, t.lastSeq, t.generation, t.valid = s, seq, w.Generation(), true
	return s
}

// Last returns the most recent snapshot without recomputing.
func (t *Tracker) Last() State { return t.last }
