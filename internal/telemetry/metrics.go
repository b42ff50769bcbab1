// Package telemetry exposes prometheus collectors for evaluation runs.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "forecast"

// Run kinds used as the "kind" label of RunDuration.
const (
	KindBacktest    = "backtest"
	KindWalkForward = "walkforward"
)

// Run outcomes used as the "status" label.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, which keeps library callers free of a prometheus dependency.
type Metrics struct {
	BacktestsTotal     *prometheus.CounterVec
	WalkForwardRuns    *prometheus.CounterVec
	WalkForwardWindows prometheus.Counter
	GridEvaluations    prometheus.Counter
	RunDuration        *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		BacktestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backtests_total",
			Help:      "Backtest runs by strategy and outcome.",
		}, []string{"strategy", "status"}),
		WalkForwardRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "walkforward_runs_total",
			Help:      "Walk-forward runs by outcome.",
		}, []string{"status"}),
		WalkForwardWindows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "walkforward_windows_total",
			Help:      "Walk-forward windows completed.",
		}),
		GridEvaluations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_evaluations_total",
			Help:      "In-sample parameter combinations evaluated.",
		}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of evaluation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"kind"}),
	}
}

// ObserveBacktest records one backtest outcome.
func (m *Metrics) ObserveBacktest(strategy, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BacktestsTotal.WithLabelValues(strategy, status).Inc()
	m.RunDuration.WithLabelValues(KindBacktest).Observe(elapsed.Seconds())
}

// ObserveWalkForward records one walk-forward outcome.
func (m *Metrics) ObserveWalkForward(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.WalkForwardRuns.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(KindWalkForward).Observe(elapsed.Seconds())
}

// AddWindow counts a completed walk-forward window.
func (m *Metrics) AddWindow() {
	if m == nil {
		return
	}
	m.WalkForwardWindows.Inc()
}

// AddGridEvaluations counts evaluated parameter combinations.
func (m *Metrics) AddGridEvaluations(n int) {
	if m == nil {
		return
	}
	m.GridEvaluations.Add(float64(n))
}
