package market

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Binance archive rows: open time, OHLCV, close time and six more columns.
const archiveCSV = `1704067500000000,42300.1,42350.0,42280.5,42320.0,12.5,1704067799999999,528000.1,410,6.1,258000.2,0
1704067200000,42283.6,42310.0,42250.0,42300.1,10.2,1704067499999,431000.4,380,5.0,211000.1,0
`

func zipOf(t *testing.T, name, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestKlineArchiveFetchMonth(t *testing.T) {
	payload := zipOf(t, "BTCUSDT-5m-2024-01.csv", archiveCSV)
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.Path == "/data/spot/monthly/klines/BTCUSDT/5m/BTCUSDT-5m-2024-01.zip" {
			_, _ = w.Write(payload)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	a := NewKlineArchive(srv.URL, nil)
	month := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cs, err := a.FetchMonth(context.Background(), "BTCUSDT", "5m", month)
	require.NoError(t, err)
	assert.Equal(t, "/data/spot/monthly/klines/BTCUSDT/5m/BTCUSDT-5m-2024-01.zip", gotPath)
	require.Len(t, cs, 2)
	assert.Equal(t, int64(1704067200000), cs[0].Timestamp)
	assert.Equal(t, int64(1704067500000), cs[1].Timestamp, "microseconds become milliseconds")
	assert.Equal(t, 42320.0, cs[1].Close)

	_, err = a.FetchMonth(context.Background(), "BTCUSDT", "5m", month.AddDate(0, 1, 0))
	require.ErrorIs(t, err, ErrArchiveMissing)
}

func TestKlineArchiveRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewKlineArchive(srv.URL, nil)
	a.Retries = 2
	_, err := a.FetchMonth(context.Background(), "ETHUSDT", "1m", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, 2, calls)
}

func TestMonthRange(t *testing.T) {
	months, err := MonthRange("2023-11", "2024-02")
	require.NoError(t, err)
	require.Len(t, months, 4)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), months[3])

	_, err = MonthRange("2024-02", "2023-11")
	require.Error(t, err)
	_, err = MonthRange("2024/02", "2024-03")
	require.Error(t, err)
}
