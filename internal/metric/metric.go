// Package metric exposes Prometheus instruments for the event sync path.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

var (
	syncRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventcal_sync_requests_total",
		Help: "Requests sent to the remote event store, by operation and outcome",
	}, []string{"op", "outcome"})

	syncLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventcal_sync_request_seconds",
		Help:    "Latency of requests to the remote event store",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	cachedEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventcal_cached_events",
		Help: "Number of events held in the client-side cache",
	})

	drops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventcal_drops_total",
		Help: "Drop notifications received from the calendar widget, by result",
	}, []string{"result"})
)

// ObserveSync records one remote store call.
func ObserveSync(op string, took time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	syncRequests.WithLabelValues(op, outcome).Inc()
	syncLatency.WithLabelValues(op).Observe(took.Seconds())
}

// SetCachedEvents publishes the current cache size.
func SetCachedEvents(n int) {
	cachedEvents.Set(float64(n))
}

// ObserveDrop counts a drop notification by result ("rescheduled",
// "unknown_id", "invalid_range", "transport_error").
func ObserveDrop(result string) {
	drops.WithLabelValues(result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
