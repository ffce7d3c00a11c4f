package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// pendingUpdates is the number of buffered remote updates.
	pendingUpdates = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marginalia",
		Subsystem: "realtime",
		Name:      "pending_updates",
		Help:      "Remote updates waiting to be applied",
	})

	pendingDeletions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marginalia",
		Subsystem: "realtime",
		Name:      "pending_deletions",
		Help:      "Remote deletions waiting to be applied",
	})

	// realtimeMessages counts pushed messages.
	// Labels: type (create, update, delete)
	realtimeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marginalia",
		Subsystem: "realtime",
		Name:      "messages_total",
		Help:      "Pushed annotation messages received",
	}, []string{"type"})

	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marginalia",
		Subsystem: "threads",
		Name:      "build_duration_seconds",
		Help:      "Time to produce a thread projection, cache hits included",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	anchoringFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marginalia",
		Subsystem: "anchoring",
		Name:      "flushes_total",
		Help:      "Coalesced anchoring transitions applied",
	})
)

// MetricsHandler exposes the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
