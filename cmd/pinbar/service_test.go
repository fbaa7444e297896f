package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pinbar-backtest/services/config"
	"pinbar-backtest/services/market"
)

func waveCandles(n int) []CandleJSON {
	out := make([]CandleJSON, n)
	for i := range out {
		mid := 100 + 5*math.Sin(float64(i)/15)
		open := mid - 0.1
		closePx := mid + 0.1
		if i%2 == 1 {
			open, closePx = closePx, open
		}
		out[i] = CandleJSON{
			Timestamp: 1_700_000_000_000 + int64(i)*300_000,
			Open:      open,
			High:      mid + 0.6,
			Low:       mid - 0.6,
			Close:     closePx,
			Volume:    100 + float64(i%7),
		}
	}
	return out
}

func newTestServer(t *testing.T) (*BacktestService, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Engine.MaxWorkers = 2
	svc := NewBacktestService(cfg, nil, t.TempDir(), zap.NewNop())
	r := gin.New()
	svc.setupHTTPRoutes(r)
	return svc, r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBacktestInlineCandles(t *testing.T) {
	_, r := newTestServer(t)

	w := do(t, r, http.MethodPost, "/api/v1/backtest", BacktestRequest{
		Symbols:    []string{"btcusdt"},
		Parameters: map[string]string{"risk.risk_per_trade": "0.01"},
		Candles:    waveCandles(400),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var job Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "completed", job.Status)
	require.Len(t, job.SymbolResults, 1)
	res := job.SymbolResults[0]
	assert.Equal(t, "BTCUSDT", res.Symbol)
	assert.Equal(t, 400, res.Manifest.Bars)
	assert.Equal(t, job.JobID, res.Manifest.JobID)
	assert.Equal(t, "0.01", res.Manifest.ConfigSnapshot.Values["risk.risk_per_trade"])

	w = do(t, r, http.MethodGet, "/api/v1/backtest/"+job.JobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), job.JobID)

	w = do(t, r, http.MethodGet, "/api/v1/backtest/"+job.JobID+"/btcusdt/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "id,symbol,side"))
	assert.Contains(t, w.Body.String(), "# Summary")

	w = do(t, r, http.MethodGet, "/api/v1/backtest/"+job.JobID+"/BTCUSDT/trades?format=arrow", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, arrowStreamMIME, w.Header().Get("Content-Type"))
	rdr, err := ipc.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer rdr.Release()
	assert.Equal(t, "trade_id", rdr.Schema().Field(0).Name)

	w = do(t, r, http.MethodGet, "/api/v1/backtest/"+job.JobID+"/BTCUSDT/trades?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pinbar_runs_total{status="success"} 1`)
	assert.Contains(t, w.Body.String(), `pinbar_bars_processed_total{symbol="BTCUSDT"} 400`)
}

func TestBacktestRequestErrors(t *testing.T) {
	_, r := newTestServer(t)

	tests := []struct {
		name string
		body any
		code int
		want string
	}{
		{"no symbols", BacktestRequest{}, http.StatusBadRequest, "Symbols"},
		{"unknown parameter", BacktestRequest{Symbols: []string{"X"}, Parameters: map[string]string{"risk.nope": "1"}, Candles: waveCandles(10)}, http.StatusBadRequest, "unknown parameter"},
		{"bad range", BacktestRequest{Symbols: []string{"X"}, Parameters: map[string]string{"risk.take_profit_pct": "0.01"}, Candles: waveCandles(10)}, http.StatusBadRequest, "TakeProfitPct"},
		{"inline candles for two symbols", BacktestRequest{Symbols: []string{"A", "B"}, Candles: waveCandles(10)}, http.StatusBadRequest, "exactly one symbol"},
		{"missing data file", BacktestRequest{Symbols: []string{"NOFILE"}}, http.StatusNotFound, "NOFILE.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/v1/backtest", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}

	w := do(t, r, http.MethodGet, "/api/v1/backtest/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	_, r := newTestServer(t)
	w := do(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestStoreEvictsOldest(t *testing.T) {
	svc, _ := newTestServer(t)
	for i := 0; i < maxStoredJobs+3; i++ {
		svc.store(&Job{JobID: fmt.Sprintf("job-%d", i)})
	}
	assert.Len(t, svc.jobs, maxStoredJobs)
	_, ok := svc.job("job-2")
	assert.False(t, ok)
	_, ok = svc.job("job-3")
	assert.True(t, ok)
}

func TestRunSymbolsFromDataDir(t *testing.T) {
	dir := t.TempDir()
	var cs []market.Candle
	for _, c := range waveCandles(300) {
		cs = append(cs, market.Candle{Timestamp: c.Timestamp, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume})
	}
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		f, err := os.Create(filepath.Join(dir, sym+".csv"))
		require.NoError(t, err)
		require.NoError(t, market.WriteCSV(f, cs))
		require.NoError(t, f.Close())
	}

	cfg := config.Default()
	results, err := runSymbols(context.Background(), "job-1", cfg.Strategy, []string{"AAA", "BBB", "CCC"}, csvSource(dir, "", zap.NewNop()), 2, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, sym := range []string{"AAA", "BBB", "CCC"} {
		assert.Equal(t, sym, results[i].Params.Symbol)
		assert.Equal(t, "job-1", results[i].JobID)
		assert.Equal(t, 300, results[i].PerfMetrics.BarsProcessed)
	}
	// same candles, runs differ only by symbol
	assert.NotEqual(t, results[0].Manifest.ConfigSnapshot.ConfigHash, results[1].Manifest.ConfigSnapshot.ConfigHash)
	assert.Equal(t, results[0].Manifest.DataChecksum, results[2].Manifest.DataChecksum)
	assert.Equal(t, len(results[0].Trades), len(results[2].Trades))

	_, err = runSymbols(context.Background(), "job-2", cfg.Strategy, []string{"AAA", "ZZZ"}, csvSource(dir, "", zap.NewNop()), 2, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ZZZ")
}

func TestParseSets(t *testing.T) {
	kv, err := parseSets([]string{"signal.target_rr=[1,2,3]", " risk.risk_per_trade =0.01"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"signal.target_rr": "[1,2,3]", "risk.risk_per_trade": "0.01"}, kv)

	_, err = parseSets([]string{"novalue"})
	require.Error(t, err)

	ms, err := parseUTC("2024-01-01 00:00:00")
	require.NoError(t, err)
	assert.Equal(t, int64(1704067200000), ms)
}
