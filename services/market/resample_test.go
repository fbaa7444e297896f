package market

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCadence(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"5m":    5 * time.Minute,
		"15min": 15 * time.Minute,
		"1h":    time.Hour,
		"30":    30 * time.Minute,
	} {
		got, err := ParseCadence(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "10s", "abc", "90s"} {
		_, err := ParseCadence(bad)
		assert.Error(t, err, bad)
	}
}

func TestResampleFiveToFifteen(t *testing.T) {
	const m5 = 300_000
	base := int64(900_000 * 10)
	cs := []Candle{
		{Timestamp: base, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1},
		{Timestamp: base + m5, Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 2},
		{Timestamp: base + 2*m5, Open: 11, High: 11.5, Low: 8, Close: 9, Volume: 3},
		// gap: bar at +4 falls in the next bucket alone
		{Timestamp: base + 4*m5, Open: 9, High: 9.5, Low: 8.5, Close: 9.2, Volume: 4, Indicators: map[string]float64{RSI: 50}},
	}
	out := Resample(cs, 15*time.Minute)
	require.Len(t, out, 2)
	assert.Equal(t, Candle{Timestamp: base, Open: 10, High: 12, Low: 8, Close: 9, Volume: 6}, out[0])
	assert.Equal(t, base+3*m5, out[1].Timestamp)
	assert.Nil(t, out[1].Indicators)
}

func TestWriteCSVReadsBack(t *testing.T) {
	cs := []Candle{
		{Timestamp: 60_000, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 12},
		{Timestamp: 120_000, Open: 100.5, High: 102, Low: 100, Close: 101, Volume: 7},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, cs))
	s, err := ReadCSV(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, cs, s.Candles)
}
