// Package telemetry provides observability primitives for the Radagast gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	CompletionsActive  prometheus.Gauge
	TokensProcessed    *prometheus.CounterVec
	QuotaRejects       *prometheus.CounterVec
	UpstreamErrors     *prometheus.CounterVec
	EventQueueLength   prometheus.Gauge
	EventsDropped      prometheus.Counter
	ActiveUserSnapshot *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "radagast",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		CompletionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "radagast",
			Name:      "completions_active",
			Help:      "Number of completion streams currently in flight.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "direction"}),

		QuotaRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "quota_rejects_total",
			Help:      "Total quota rejections.",
		}, []string{"resource"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "upstream_errors_total",
			Help:      "Total upstream provider errors.",
		}, []string{"provider", "status"}),

		EventQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "radagast",
			Name:      "usage_event_queue_length",
			Help:      "Current number of queued usage events.",
		}),

		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radagast",
			Name:      "usage_events_dropped_total",
			Help:      "Total usage events dropped due to a full queue.",
		}),

		ActiveUserSnapshot: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "radagast",
			Name:      "active_users",
			Help:      "Distinct users with recent usage, by horizon.",
		}, []string{"horizon"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.CompletionsActive,
		m.TokensProcessed,
		m.QuotaRejects,
		m.UpstreamErrors,
		m.EventQueueLength,
		m.EventsDropped,
		m.ActiveUserSnapshot,
	)

	return m
}
