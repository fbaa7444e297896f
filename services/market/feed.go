package market

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Series is a loaded, time-ordered candle sequence.
type Series struct {
	Symbol    string
	Candles   []Candle
	CadenceMs int64
	Skipped   int
}

// Timestamps returns the open times as unsigned ms for gap detection.
func (s *Series) Timestamps() []uint64 {
	out := make([]uint64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = uint64(c.Timestamp)
	}
	return out
}

// LoadCSV reads timestamp,open,high,low,close,volume rows from path.
func LoadCSV(path string, logger *zap.Logger) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, logger)
}

// ReadCSV accepts UTF-8 or BOM-prefixed UTF-16 input, skips a header row and
// malformed lines, sorts by time and keeps the last row of duplicate timestamps.
func ReadCSV(src io.Reader, logger *zap.Logger) (*Series, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	br := bufio.NewReader(src)
	var reader io.Reader = br
	if b, _ := br.Peek(2); len(b) == 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		reader = transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	}

	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	s := &Series{Candles: make([]Candle, 0, 1_000)}
	for line := 0; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || len(rec) < 6 {
			s.Skipped++
			continue
		}
		head := strings.TrimPrefix(strings.TrimSpace(rec[0]), "\ufeff")
		if line == 0 && (strings.EqualFold(head, "timestamp") || strings.EqualFold(head, "timestamp_ms") || strings.EqualFold(head, "open_time")) {
			continue
		}
		c, err := parseRow(head, rec[1:6])
		if err != nil || !c.Valid() {
			s.Skipped++
			continue
		}
		s.Candles = append(s.Candles, c)
	}
	if len(s.Candles) == 0 {
		return nil, ErrNoData
	}

	sort.SliceStable(s.Candles, func(i, j int) bool { return s.Candles[i].Timestamp < s.Candles[j].Timestamp })
	uniq := s.Candles[:0]
	for _, c := range s.Candles {
		if n := len(uniq); n > 0 && uniq[n-1].Timestamp == c.Timestamp {
			uniq[n-1] = c
			continue
		}
		uniq = append(uniq, c)
	}
	s.Candles = uniq
	s.CadenceMs = DetectCadence(s.Candles)

	logger.Info("Parsed candles from CSV",
		zap.Int("candles", len(s.Candles)),
		zap.Int("skipped", s.Skipped),
		zap.Int64("cadence_ms", s.CadenceMs),
	)
	return s, nil
}

func parseRow(ts string, f []string) (Candle, error) {
	var c Candle
	var err error
	if c.Timestamp, err = strconv.ParseInt(ts, 10, 64); err != nil {
		return c, err
	}
	vals := make([]float64, 5)
	for i := range vals {
		v, perr := strconv.ParseFloat(strings.TrimSpace(f[i]), 64)
		if perr != nil {
			if i == 4 {
				v = 0
			} else {
				return c, perr
			}
		}
		vals[i] = v
	}
	c.Open, c.High, c.Low, c.Close, c.Volume = vals[0], vals[1], vals[2], vals[3], vals[4]
	return c, nil
}

// DetectCadence returns the most common positive spacing among the first
// 2000 candles, or 0 when it cannot tell.
func DetectCadence(cs []Candle) int64 {
	counts := make(map[int64]int)
	limit := len(cs)
	if limit > 2000 {
		limit = 2000
	}
	for i := 1; i < limit; i++ {
		if d := cs[i].Timestamp - cs[i-1].Timestamp; d > 0 {
			counts[d]++
		}
	}
	var best int64
	bestCount := 0
	for d, n := range counts {
		if n > bestCount || (n == bestCount && d < best) {
			best, bestCount = d, n
		}
	}
	return best
}
