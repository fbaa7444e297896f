package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"pinbar-backtest/services/market"
)

// DetectGaps checks for missing intervals in sorted timestamps (ms) and returns
// the timestamp preceding each gap.
func DetectGaps(timestamps []uint64, expectedStepMs uint64) (gaps []uint64) {
	if expectedStepMs == 0 {
		return nil
	}
	for i := 1; i < len(timestamps); i++ {
		if timestamps[i]-timestamps[i-1] > expectedStepMs {
			gaps = append(gaps, timestamps[i-1])
		}
	}
	return gaps
}

// DataChecksum is a SHA-256 over the raw OHLCV fields of cs.
func DataChecksum(cs []market.Candle) string {
	h := sha256.New()
	var buf [8]byte
	for _, c := range cs {
		binary.LittleEndian.PutUint64(buf[:], uint64(c.Timestamp))
		h.Write(buf[:])
		for _, v := range [...]float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
