package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pinbar-backtest/strategies"
)

const metricsNamespace = "pinbar"

// Metrics live on the registry passed to NewMetrics, one per service.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec
	BarsTotal    *prometheus.CounterVec
	TradesTotal  *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	BreakerTrips prometheus.Counter
	JobsInFlight prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Symbol runs by outcome.",
		}, []string{"status"}),
		BarsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bars_processed_total",
			Help:      "Bars fed through the decision core.",
		}, []string{"symbol"}),
		TradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trades_total",
			Help:      "Closed trades by exit reason.",
		}, []string{"exit_reason"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one symbol run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		BreakerTrips: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "breaker_trips_total",
			Help:      "Runs that ended with the account breaker tripped.",
		}),
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_in_flight",
			Help:      "Backtest jobs currently executing.",
		}),
	}
}

func (m *Metrics) observe(s *strategies.PinbarStrategy) {
	m.RunsTotal.WithLabelValues("success").Inc()
	m.BarsTotal.WithLabelValues(s.Params.Symbol).Add(float64(s.PerfMetrics.BarsProcessed))
	for _, t := range s.Trades {
		m.TradesTotal.WithLabelValues(t.ExitReason).Inc()
	}
	m.RunDuration.Observe(s.PerfMetrics.EndTime.Sub(s.PerfMetrics.StartTime).Seconds())
	if s.Summary.BreakerTripped {
		m.BreakerTrips.Inc()
	}
}
