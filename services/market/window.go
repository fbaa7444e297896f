package market

// DefaultWindowSize bounds how many candles the decision core keeps.
const DefaultWindowSize = 1000

// Window is a fixed-capacity ring of candles. Index 0 is the oldest retained
// candle. Every candle ever appended has an absolute sequence number that
// survives eviction, so caches can be keyed by it.
type Window struct {
	buf        []Candle
	start      int
	n          int
	total      int64
	generation uint64
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{buf: make([]Candle, capacity)}
}

// Append adds c as the newest candle, evicting the oldest when full.
func (w *Window) Append(c Candle) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = c
		w.n++
	} else {
		w.buf[w.start] = c
		w.start = (w.start + 1) % len(w.buf)
	}
	w.total++
}

// Reset drops all candles and bumps the generation so derived caches rebuild.
func (w *Window) Reset() {
	for i := range w.buf {
		w.buf[i] = Candle{}
	}
	w.start, w.n, w.total = 0, 0, 0
	w.generation++
}

func (w *Window) Len() int { return w.n }

func (w *Window) Cap() int { return len(w.buf) }

// Total is the number of candles ever appended since the last Reset.
func (w *Window) Total() int64 { return w.total }

// Generation changes whenever the window content is replaced wholesale.
func (w *Window) Generation() uint64 { return w.generation }

// At returns the i-th retained candle (0 = oldest). It panics on a bad index
// like a slice would.
func (w *Window) At(i int) Candle {
	if i < 0 || i >= w.n {
		panic("market: window index out of range")
	}
	return w.buf[(w.start+i)%len(w.buf)]
}

func (w *Window) Last() Candle { return w.At(w.n - 1) }

// SeqAt returns the absolute sequence number of the i-th retained candle.
func (w *Window) SeqAt(i int) int64 { return w.total - int64(w.n) + int64(i) }

// IndexOf maps an absolute sequence number back to a retained index.
func (w *Window) IndexOf(seq int64) (int, bool) {
	i := seq - (w.total - int64(w.n))
	if i < 0 || i >= int64(w.n) {
		return 0, false
	}
	return int(i), true
}

// Series copies one indicator (or a price field via fn) for the retained
// candles in [from, to].
func (w *Window) Series(from, to int, fn func(Candle) float64) []float64 {
	if from < 0 {
		from = 0
	}
	if to >= w.n {
		to = w.n - 1
	}
	if to < from {
		return nil
	}
	out := make([]float64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fn(w.At(i)))
	}
	return out
}

// IndicatorFn is a Series accessor for a named indicator.
func IndicatorFn(name string) func(Candle) float64 {
	return func(c Candle) float64 { return c.Indicator(name) }
}
