package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the service's Prometheus surface.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	StageDenials      *prometheus.CounterVec
	ProviderFailures  *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	QuotaDegraded     prometheus.Counter
	SanitizeEvents    *prometheus.CounterVec
	ClaimDowngrades   *prometheus.CounterVec
	MemoryRejections  *prometheus.CounterVec
	StrippedFields    prometheus.Counter
	FallbacksRendered *prometheus.CounterVec
}

// NewMetrics registers every collector on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Chat requests by action and status code.",
		}, []string{"action", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_request_duration_seconds",
			Help:    "End to end request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		StageDenials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_stage_denials_total",
			Help: "Denials by pipeline stage and reason.",
		}, []string{"stage", "reason"}),
		ProviderFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "model_provider_failures_total",
			Help: "Classified provider failures.",
		}, []string{"kind"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "model_breaker_state",
			Help: "Breaker state per provider:model (0 closed, 1 half-open, 2 open).",
		}, []string{"key"}),
		QuotaDegraded: f.NewCounter(prometheus.CounterOpts{
			Name: "quota_store_degraded_total",
			Help: "Requests served while the quota store was unreachable.",
		}),
		SanitizeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retrieval_sanitize_events_total",
			Help: "Neutralized injection patterns by kind.",
		}, []string{"kind"}),
		ClaimDowngrades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "retrieval_claim_downgrades_total",
			Help: "Answers downgraded by claim-to-citation binding, by final mode.",
		}, []string{"mode"}),
		MemoryRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "memory_write_rejections_total",
			Help: "Rejected memory write batches by reason.",
		}, []string{"reason"}),
		StrippedFields: f.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_stripped_fields_total",
			Help: "Forbidden fields stripped before emission.",
		}),
		FallbacksRendered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "model_fallbacks_rendered_total",
			Help: "Deterministic fallbacks rendered by failure kind.",
		}, []string{"failure"}),
	}
}
