package market

import "math"

// Finite reports whether every value is a real number.
func Finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mean ignores NaN entries and returns NaN for an empty input.
func Mean(vals []float64) float64 {
	var sum float64
	var n int
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// StdDev is the population standard deviation over the non-NaN entries.
func StdDev(vals []float64) float64 {
	m := Mean(vals)
	if math.IsNaN(m) {
		return math.NaN()
	}
	var ss float64
	var n int
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		ss += (v - m) * (v - m)
		n++
	}
	return math.Sqrt(ss / float64(n))
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMASeries returns the simple moving average; entries before the first full
// period are NaN.
func SMASeries(vals []float64, period int) []float64 {
	out := nanSeries(len(vals))
	if period <= 0 || len(vals) < period {
		return out
	}
	var sum float64
	for i, v := range vals {
		sum += v
		if i >= period {
			sum -= vals[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMASeries seeds with the SMA of the first period values, then smooths with
// alpha = 2/(period+1).
func EMASeries(vals []float64, period int) []float64 {
	out := nanSeries(len(vals))
	if period <= 0 || len(vals) < period {
		return out
	}
	var seed float64
	for i := 0; i < period; i++ {
		seed += vals[i]
	}
	out[period-1] = seed / float64(period)
	alpha := 2.0 / float64(period+1)
	for i := period; i < len(vals); i++ {
		out[i] = vals[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

// TrueRange is undefined for the first candle.
func TrueRange(cs []Candle) []float64 {
	out := nanSeries(len(cs))
	for i := 1; i < len(cs); i++ {
		prev := cs[i-1].Close
		out[i] = math.Max(cs[i].High-cs[i].Low, math.Max(math.Abs(cs[i].High-prev), math.Abs(cs[i].Low-prev)))
	}
	return out
}

// ATRSeries uses Wilder's RMA seeded with the SMA of the first period true ranges.
func ATRSeries(cs []Candle, period int) []float64 {
	out := nanSeries(len(cs))
	if period <= 0 || len(cs) < period+1 {
		return out
	}
	tr := TrueRange(cs)
	var atr float64
	for i := 1; i <= period; i++ {
		atr += tr[i]
	}
	atr /= float64(period)
	out[period] = atr
	for i := period + 1; i < len(cs); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

// RSISeries is Wilder's RSI.
func RSISeries(vals []float64, period int) []float64 {
	out := nanSeries(len(vals))
	if period <= 0 || len(vals) < period+1 {
		return out
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := vals[i] - vals[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	out[period] = rsiFrom(gain, loss)
	for i := period + 1; i < len(vals); i++ {
		d := vals[i] - vals[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
		out[i] = rsiFrom(gain, loss)
	}
	return out
}

func rsiFrom(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// DirectionalSeries returns ADX, +DI and -DI using Wilder smoothing.
func DirectionalSeries(cs []Candle, period int) (adx, plusDI, minusDI []float64) {
	n := len(cs)
	adx, plusDI, minusDI = nanSeries(n), nanSeries(n), nanSeries(n)
	if period <= 0 || n < 2*period+1 {
		return
	}
	tr := TrueRange(cs)
	pdm := make([]float64, n)
	mdm := make([]float64, n)
	for i := 1; i < n; i++ {
		up := cs[i].High - cs[i-1].High
		down := cs[i-1].Low - cs[i].Low
		if up > down && up > 0 {
			pdm[i] = up
		}
		if down > up && down > 0 {
			mdm[i] = down
		}
	}
	var sTR, sP, sM float64
	for i := 1; i <= period; i++ {
		sTR += tr[i]
		sP += pdm[i]
		sM += mdm[i]
	}
	p := float64(period)
	dx := nanSeries(n)
	for i := period; i < n; i++ {
		if i > period {
			sTR = sTR - sTR/p + tr[i]
			sP = sP - sP/p + pdm[i]
			sM = sM - sM/p + mdm[i]
		}
		if sTR == 0 {
			plusDI[i], minusDI[i], dx[i] = 0, 0, 0
			continue
		}
		plusDI[i] = 100 * sP / sTR
		minusDI[i] = 100 * sM / sTR
		if s := plusDI[i] + minusDI[i]; s > 0 {
			dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / s
		} else {
			dx[i] = 0
		}
	}
	first := 2*period - 1
	var sum float64
	for i := period; i <= first; i++ {
		sum += dx[i]
	}
	adx[first] = sum / p
	for i := first + 1; i < n; i++ {
		adx[i] = (adx[i-1]*(p-1) + dx[i]) / p
	}
	return
}

// BollingerSeries returns the upper, middle and lower bands.
func BollingerSeries(vals []float64, period int, k float64) (upper, middle, lower []float64) {
	n := len(vals)
	upper, lower = nanSeries(n), nanSeries(n)
	middle = SMASeries(vals, period)
	for i := period - 1; i < n && i >= 0; i++ {
		sd := StdDev(vals[i-period+1 : i+1])
		upper[i] = middle[i] + k*sd
		lower[i] = middle[i] - k*sd
	}
	return
}

// PercentileRank returns, for each entry, the share (0..100) of the trailing
// lookback values (current included) that are less than or equal to it.
func PercentileRank(vals []float64, lookback int) []float64 {
	out := nanSeries(len(vals))
	for i := range vals {
		if math.IsNaN(vals[i]) || i < lookback-1 {
			continue
		}
		var le, cnt int
		for j := i - lookback + 1; j <= i; j++ {
			if math.IsNaN(vals[j]) {
				continue
			}
			cnt++
			if vals[j] <= vals[i] {
				le++
			}
		}
		if cnt > 0 {
			out[i] = 100 * float64(le) / float64(cnt)
		}
	}
	return out
}
