// Package metrics wraps the Prometheus collectors exposed by the hub.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used across the hub.
type Registry struct {
	GroupsActive        prometheus.Gauge
	SubscriptionsActive prometheus.Gauge
	BroadcastDropped    prometheus.Counter
	ReaperEvictions     prometheus.Counter
	FlushDuration       prometheus.Histogram
	FlushErrors         prometheus.Counter
	AccessDenied        prometheus.Counter
}

// NewRegistry creates and registers the hub's Prometheus collectors.
func NewRegistry() *Registry {
	return &Registry{
		GroupsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabhub_groups_active",
			Help: "Number of collaborative objects currently cached in memory",
		}),
		SubscriptionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collabhub_subscriptions_active",
			Help: "Number of currently connected client subscriptions",
		}),
		BroadcastDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabhub_broadcast_dropped_total",
			Help: "Total broadcast messages dropped due to a full per-group channel",
		}),
		ReaperEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabhub_reaper_evictions_total",
			Help: "Total groups evicted by the inactivity reaper",
		}),
		FlushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collabhub_flush_duration_seconds",
			Help:    "Time spent flushing a replica's accumulated deltas to storage",
			Buckets: prometheus.DefBuckets,
		}),
		FlushErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabhub_flush_errors_total",
			Help: "Total eviction flushes to storage that failed",
		}),
		AccessDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "collabhub_access_denied_total",
			Help: "Total websocket subscribe requests rejected by access control",
		}),
	}
}

// Handler returns the HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFlush records a completed flush's wall-clock duration.
func (r *Registry) ObserveFlush(d time.Duration) {
	r.FlushDuration.Observe(d.Seconds())
}
