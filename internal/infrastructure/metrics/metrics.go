// Package metrics provides Prometheus instrumentation for batch execution.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts batch item executions, partitioned by outcome and
	// error category ("" for successes).
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcore_runs_total",
		Help: "Total number of backtest item executions",
	}, []string{"outcome", "category"})

	// RunDuration tracks per-item wall time in seconds.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "btcore_run_duration_seconds",
		Help:    "Backtest item execution duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"adapter_mode"})

	// ActiveWorkers tracks workers currently executing batch items.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "btcore_active_workers",
		Help: "Number of workers currently executing batch items",
	})

	// BatchesTotal counts completed batches by final status.
	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcore_batches_total",
		Help: "Total number of completed batches",
	}, []string{"status"})

	// RetriesTotal counts retry attempts by error category.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btcore_retries_total",
		Help: "Total number of batch item retries",
	}, []string{"category"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
