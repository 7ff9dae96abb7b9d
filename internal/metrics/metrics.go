// Package metrics exposes the indexer's Prometheus instrumentation and
// a /healthz liveness endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BlocksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "phunks",
		Name:      "blocks_processed_total",
		Help:      "Blocks the Coordinator has successfully processed.",
	})

	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phunks",
		Name:      "events_emitted_total",
		Help:      "Domain events appended to the event log, by type.",
	}, []string{"type"})

	RPCRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "phunks",
		Name:      "rpc_retries_total",
		Help:      "Transient RPC errors the Chain Client retried.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "phunks",
		Name:      "queue_depth",
		Help:      "Current depth of the per-chain Block Queue.",
	})

	ReorgDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "phunks",
		Name:      "reorg_depth_blocks",
		Help:      "Depth of detected reorgs, in blocks.",
		Buckets:   []float64{1, 2, 3, 4, 5, 6, 10, 20, 30},
	})

	PointsSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "phunks",
		Name:      "points_sync_failures_total",
		Help:      "Failed callPoints re-syncs (logged and swallowed per spec).",
	})
)

// Handler returns the /metrics + /healthz mux the indexer serves on
// Config.MetricsAddr.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
