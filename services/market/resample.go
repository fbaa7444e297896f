package market

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ParseCadence accepts "5m", "15min", "1h" or a bare number of minutes.
func ParseCadence(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if v, ok := strings.CutSuffix(s, "min"); ok {
		s = v + "m"
	}
	if n, err := strconv.Atoi(s); err == nil {
		s = strconv.Itoa(n) + "m"
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < time.Minute || d%time.Minute != 0 {
		return 0, fmt.Errorf("unsupported cadence %q", s)
	}
	return d, nil
}

// Resample aggregates time-ordered candles into buckets of step aligned to
// the epoch: first open, max high, min low, last close, summed volume.
// Indicators are dropped; annotate the result again if needed.
func Resample(cs []Candle, step time.Duration) []Candle {
	ms := step.Milliseconds()
	if ms <= 0 {
		return nil
	}
	out := make([]Candle, 0, len(cs)/int(max(1, ms/60_000))+1)
	for _, c := range cs {
		bucket := (c.Timestamp / ms) * ms
		if n := len(out); n > 0 && out[n-1].Timestamp == bucket {
			agg := &out[n-1]
			agg.High = max(agg.High, c.High)
			agg.Low = min(agg.Low, c.Low)
			agg.Close = c.Close
			agg.Volume += c.Volume
			continue
		}
		out = append(out, Candle{Timestamp: bucket, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume})
	}
	return out
}

// WriteCSV writes candles in the format ReadCSV accepts.
func WriteCSV(w io.Writer, cs []Candle) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("timestamp,open,high,low,close,volume\n"); err != nil {
		return err
	}
	for _, c := range cs {
		if _, err := fmt.Fprintf(bw, "%d,%.8f,%.8f,%.8f,%.8f,%.8f\n", c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return err
		}
	}
	return bw.Flush()
}
