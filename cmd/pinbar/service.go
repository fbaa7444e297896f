package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pinbar-backtest/services/arrowpipeline"
	"pinbar-backtest/services/clickhouse"
	"pinbar-backtest/services/config"
	"pinbar-backtest/services/engine"
	"pinbar-backtest/services/market"
	"pinbar-backtest/services/risk"
	"pinbar-backtest/strategies"
)

const (
	maxStoredJobs   = 256
	arrowStreamMIME = "application/vnd.apache.arrow.stream"
)

type CandleJSON struct {
	Timestamp int64   `json:"timestamp" binding:"required,gt=0"`
	Open      float64 `json:"open" binding:"required,gt=0"`
	High      float64 `json:"high" binding:"required,gt=0"`
	Low       float64 `json:"low" binding:"required,gt=0"`
	Close     float64 `json:"close" binding:"required,gt=0"`
	Volume    float64 `json:"volume" binding:"gte=0"`
}

// BacktestRequest runs the listed symbols. Inline candles, when given, are
// used for the single symbol instead of ClickHouse or the data directory.
type BacktestRequest struct {
	Symbols    []string          `json:"symbols" binding:"required,min=1,max=64,dive,required"`
	StartTime  string            `json:"start_time"`
	EndTime    string            `json:"end_time"`
	Parameters map[string]string `json:"parameters"`
	Candles    []CandleJSON      `json:"candles" binding:"omitempty,dive"`
}

type SymbolResult struct {
	Symbol   string              `json:"symbol"`
	Manifest *engine.RunManifest `json:"manifest"`
	Signals  int                 `json:"signals"`
	Summary  risk.Summary        `json:"summary"`
	Trades   []risk.Trade        `json:"trades"`
}

type Job struct {
	JobID           string         `json:"job_id"`
	Status          string         `json:"status"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	SymbolResults   []SymbolResult `json:"symbol_results"`

	runs map[string]*strategies.PinbarStrategy
}

// BacktestService runs jobs synchronously and keeps the most recent results
// in memory.
type BacktestService struct {
	config     *config.Config
	clickhouse *clickhouse.Client
	arrow      *arrowpipeline.Pipeline
	metrics    *Metrics
	registry   *prometheus.Registry
	logger     *zap.Logger
	dataDir    string

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
}

// NewBacktestService takes an optional ClickHouse client.
func NewBacktestService(cfg *config.Config, ch *clickhouse.Client, dataDir string, logger *zap.Logger) *BacktestService {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &BacktestService{
		config:     cfg,
		clickhouse: ch,
		arrow:      arrowpipeline.NewPipeline(cfg.Arrow, nil, logger),
		metrics:    NewMetrics(reg),
		registry:   reg,
		logger:     logger,
		dataDir:    dataDir,
		jobs:       make(map[string]*Job),
	}
}

var errBadRequest = errors.New("bad request")

// ExecuteBacktest runs every symbol of req and stores the job, failed or not.
func (s *BacktestService) ExecuteBacktest(ctx context.Context, req BacktestRequest) (*Job, error) {
	job := &Job{JobID: uuid.NewString(), Status: "running", CreatedAt: time.Now().UTC()}
	s.logger.Info("Starting backtest execution",
		zap.String("job_id", job.JobID),
		zap.Strings("symbols", req.Symbols),
		zap.String("start_time", req.StartTime),
		zap.String("end_time", req.EndTime),
	)

	s.metrics.JobsInFlight.Inc()
	results, err := s.execute(ctx, job.JobID, req)
	s.metrics.JobsInFlight.Dec()
	job.ExecutionTimeMs = time.Since(job.CreatedAt).Milliseconds()

	if err != nil {
		s.metrics.RunsTotal.WithLabelValues("failed").Inc()
		job.Status, job.Error = "failed", err.Error()
		s.store(job)
		s.logger.Error("Backtest execution failed", zap.String("job_id", job.JobID), zap.Error(err))
		return job, err
	}

	job.Status = "completed"
	job.runs = make(map[string]*strategies.PinbarStrategy, len(results))
	for _, r := range results {
		s.metrics.observe(r)
		job.runs[r.Params.Symbol] = r
		job.SymbolResults = append(job.SymbolResults, SymbolResult{
			Symbol:   r.Params.Symbol,
			Manifest: r.Manifest,
			Signals:  len(r.Signals),
			Summary:  r.Summary,
			Trades:   r.Trades,
		})
	}
	s.store(job)
	s.logger.Info("Backtest completed",
		zap.String("job_id", job.JobID),
		zap.Int64("execution_time_ms", job.ExecutionTimeMs),
		zap.Int("symbol_count", len(results)),
	)
	return job, nil
}

func (s *BacktestService) execute(ctx context.Context, jobID string, req BacktestRequest) ([]*strategies.PinbarStrategy, error) {
	params, err := strategies.ParamsFromMap(s.config.Strategy, req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	load, err := s.source(req)
	if err != nil {
		return nil, err
	}
	return runSymbols(ctx, jobID, params, req.Symbols, load, s.config.Engine.MaxWorkers, s.logger)
}

func (s *BacktestService) source(req BacktestRequest) (candleSource, error) {
	if len(req.Candles) > 0 {
		if len(req.Symbols) != 1 {
			return nil, fmt.Errorf("%w: inline candles need exactly one symbol", errBadRequest)
		}
		cs := make([]market.Candle, len(req.Candles))
		for i, c := range req.Candles {
			cs[i] = market.Candle{Timestamp: c.Timestamp, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
		}
		return func(context.Context, string) ([]market.Candle, error) { return cs, nil }, nil
	}
	if s.clickhouse == nil {
		return csvSource(s.dataDir, "", s.logger), nil
	}
	fromMs, err := parseUTC(req.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: start_time: %w", errBadRequest, err)
	}
	toMs, err := parseUTC(req.EndTime)
	if err != nil {
		return nil, fmt.Errorf("%w: end_time: %w", errBadRequest, err)
	}
	return clickhouseSource(s.clickhouse, fromMs, toMs), nil
}

func (s *BacktestService) store(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job
	s.order = append(s.order, job.JobID)
	for len(s.order) > maxStoredJobs {
		delete(s.jobs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *BacktestService) job(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

// HTTP handlers for REST API
func (s *BacktestService) setupHTTPRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktestRequest)
		api.GET("/backtest/:job_id", s.handleGetBacktestResult)
		api.GET("/backtest/:job_id/:symbol/trades", s.handleGetTrades)
	}
	r.GET("/health", s.handleHealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

func (s *BacktestService) handleBacktestRequest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": engine.DescribeValidation(err).Error()})
		return
	}
	for i := range req.Symbols {
		req.Symbols[i] = strings.ToUpper(strings.TrimSpace(req.Symbols[i]))
	}

	job, err := s.ExecuteBacktest(c.Request.Context(), req)
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, strategies.ErrUnknownParam):
		c.JSON(http.StatusBadRequest, job)
	case errors.Is(err, market.ErrNoData), errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusNotFound, job)
	case err != nil:
		c.JSON(http.StatusInternalServerError, job)
	default:
		c.JSON(http.StatusOK, job)
	}
}

func (s *BacktestService) handleGetBacktestResult(c *gin.Context) {
	job, ok := s.job(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleGetTrades serves one symbol's trades as CSV (default) or, with
// ?format=arrow, as an Arrow IPC stream.
func (s *BacktestService) handleGetTrades(c *gin.Context) {
	job, ok := s.job(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	run, ok := job.runs[strings.ToUpper(c.Param("symbol"))]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not in job"})
		return
	}

	var err error
	switch c.DefaultQuery("format", "csv") {
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		err = run.WriteCSV(c.Writer)
	case "arrow":
		c.Header("Content-Type", arrowStreamMIME)
		c.Status(http.StatusOK)
		err = s.arrow.WriteTrades(c.Writer, run.Trades)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or arrow"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to write trades", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

func (s *BacktestService) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().Unix(),
		"version":    version,
		"clickhouse": s.clickhouse != nil,
	})
}
