package market

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultArchiveURL = "https://data.binance.vision"

var ErrArchiveMissing = errors.New("archive not published")

// KlineArchive downloads monthly spot kline archives from the public Binance
// data mirror.
type KlineArchive struct {
	BaseURL string
	Client  *http.Client
	Retries int
	logger  *zap.Logger
}

func NewKlineArchive(baseURL string, logger *zap.Logger) *KlineArchive {
	if baseURL == "" {
		baseURL = DefaultArchiveURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KlineArchive{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 3 * time.Minute},
		Retries: 3,
		logger:  logger,
	}
}

func (a *KlineArchive) URL(symbol, interval string, month time.Time) string {
	return fmt.Sprintf("%s/data/spot/monthly/klines/%s/%s/%s-%s-%04d-%02d.zip",
		a.BaseURL, symbol, interval, symbol, interval, month.Year(), int(month.Month()))
}

// FetchMonth returns the month's candles, oldest first. Microsecond open
// times, used by newer archives, are converted to milliseconds.
func (a *KlineArchive) FetchMonth(ctx context.Context, symbol, interval string, month time.Time) ([]Candle, error) {
	url := a.URL(symbol, interval, month)
	data, err := a.download(ctx, url)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("zip open: %w", err)
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("zip entry open: %w", err)
		}
		defer rc.Close()
		s, err := ReadCSV(rc, a.logger.With(zap.String("archive", f.Name)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		for i := range s.Candles {
			if s.Candles[i].Timestamp > 1e15 {
				s.Candles[i].Timestamp /= 1000
			}
		}
		return s.Candles, nil
	}
	return nil, fmt.Errorf("%s: no csv in zip", url)
}

func (a *KlineArchive) download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= max(1, a.Retries); attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "pinbar-backtest/1.0")
		resp, err := a.Client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, rerr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusNotFound:
				return nil, fmt.Errorf("GET %s: %w", url, ErrArchiveMissing)
			case resp.StatusCode != http.StatusOK:
				lastErr = fmt.Errorf("status %d", resp.StatusCode)
			case rerr != nil:
				lastErr = rerr
			default:
				return body, nil
			}
		}
		a.logger.Warn("Archive download failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt >= a.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return nil, fmt.Errorf("GET %s: %w", url, lastErr)
}

// MonthRange lists the first day of every month from..to inclusive, both
// given as YYYY-MM.
func MonthRange(from, to string) ([]time.Time, error) {
	start, err := time.Parse("2006-01", from)
	if err != nil {
		return nil, fmt.Errorf("parse from month: %w", err)
	}
	end, err := time.Parse("2006-01", to)
	if err != nil {
		return nil, fmt.Errorf("parse to month: %w", err)
	}
	if end.Before(start) {
		return nil, errors.New("to month before from month")
	}
	var out []time.Time
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 1, 0) {
		out = append(out, cur)
	}
	return out, nil
}
