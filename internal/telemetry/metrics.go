package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RendersStarted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "matrix_renders_started_total", Help: "Render attempts dispatched"})
	RendersCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "matrix_renders_completed_total", Help: "Renders that delivered a preview"})
	RendersFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "matrix_renders_failed_total", Help: "Renders that reported failure"})
	StaleCallbacks   = prometheus.NewCounter(prometheus.CounterOpts{Name: "matrix_stale_callbacks_total", Help: "Out-of-order or duplicate render callbacks ignored"})
	ExportsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "matrix_exports_completed_total", Help: "Combinations exported or published"})
	ExportsSkipped   = prometheus.NewCounter(prometheus.CounterOpts{Name: "matrix_exports_skipped_total", Help: "Combinations skipped by the export precondition"})
	ExportsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "matrix_exports_failed_total", Help: "Per-combination export failures"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "matrix_rate_limit_rejects_total", Help: "Generate requests rejected by rate limiter"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "matrix_renders_inflight", Help: "Combinations currently generating"})
	DispatchDepth    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "matrix_dispatch_depth", Help: "Render requests waiting for dispatch"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RendersStarted,
			RendersCompleted,
			RendersFailed,
			StaleCallbacks,
			ExportsCompleted,
			ExportsSkipped,
			ExportsFailed,
			RateLimitRejects,
			InFlightGauge,
			DispatchDepth,
		)
	})
	return promhttp.Handler()
}
