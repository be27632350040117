package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes
const (
	OutcomeOK        = "ok"
	OutcomeGone      = "gone"
	OutcomeTransient = "transient"
)

var (
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_total",
		Help: "Inbound room events by type and result.",
	}, []string{"type", "result"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_deliveries_total",
		Help: "Fan-out delivery attempts by outcome.",
	}, []string{"outcome"})

	StaleConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_stale_connections_total",
		Help: "Directory entries removed after the transport reported them gone.",
	})

	DirectoryEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_directory_evictions_total",
		Help: "Slot holders replaced by a newer connection.",
	})

	BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "realtime_broadcast_targets",
		Help:    "Connections targeted per broadcast after exclusion.",
		Buckets: []float64{0, 1, 2, 3, 5},
	})

	LocalConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_local_connections",
		Help: "Websocket connections held by this instance.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
