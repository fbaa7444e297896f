package market

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

const sampleCSV = `timestamp,open,high,low,close,volume
120000,101,102,100,101.5,10
60000,100,101,99,100.5,12
120000,101,103,100,102,11
bad,row
180000,102,104,101,103,9
`

func TestReadCSVSortsAndDedups(t *testing.T) {
	s, err := ReadCSV(strings.NewReader(sampleCSV), nil)
	require.NoError(t, err)
	require.Len(t, s.Candles, 3)
	assert.Equal(t, int64(60000), s.Candles[0].Timestamp)
	assert.Equal(t, 102.0, s.Candles[1].Close, "duplicate timestamp keeps the last row")
	assert.Equal(t, int64(60000), s.CadenceMs)
	assert.Equal(t, 1, s.Skipped)
}

func TestReadCSVUTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	raw, err := enc.Bytes([]byte(sampleCSV))
	require.NoError(t, err)
	s, err := ReadCSV(bytes.NewReader(raw), nil)
	require.NoError(t, err)
	assert.Len(t, s.Candles, 3)
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("timestamp,open,high,low,close,volume\n"), nil)
	assert.ErrorIs(t, err, ErrNoData)
}
