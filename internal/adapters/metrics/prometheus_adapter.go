package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CredentialCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nxapi_credential_cache_lookups_total",
			Help: "Credential cache lookups by service and result (hit, miss, expired, corrupt).",
		},
		[]string{"service", "result"},
	)

	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nxapi_exchanges_total",
			Help: "Full token exchanges by service, outcome and the phase they ended in.",
		},
		[]string{"service", "outcome", "phase"},
	)

	ExchangeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nxapi_exchange_duration_seconds",
			Help:    "Duration of full token exchanges.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	AttestationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nxapi_attestation_requests_total",
			Help: "Attestation requests by transport, step kind and outcome.",
		},
		[]string{"transport", "step", "outcome"},
	)

	UpstreamRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nxapi_upstream_request_duration_seconds",
			Help:    "Latency of HTTP requests to the account provider, attestation services and game services.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ExchangeLockAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nxapi_exchange_lock_attempts_total",
			Help: "Cross-process exchange lock attempts by result (acquired, contended, error).",
		},
		[]string{"result"},
	)

	CredentialEventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nxapi_credential_events_published_total",
			Help: "Credential refreshed events published to NATS by outcome.",
		},
		[]string{"outcome"},
	)

	EventStreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nxapi_event_stream_clients",
			Help: "Open WebSocket event streams.",
		},
	)

	EventStreamDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nxapi_event_stream_dropped_total",
			Help: "Events dropped because a stream's buffer was full.",
		},
	)
)

// IncrementCacheLookup records one credential cache lookup.
func IncrementCacheLookup(service, result string) {
	CredentialCacheLookupsTotal.WithLabelValues(service, result).Inc()
}

// ObserveExchange records a finished exchange.
func ObserveExchange(service, outcome, phase string, took time.Duration) {
	ExchangesTotal.WithLabelValues(service, outcome, phase).Inc()
	ExchangeDurationSeconds.WithLabelValues(service).Observe(took.Seconds())
}

// IncrementAttestationRequest records one attestation call.
func IncrementAttestationRequest(transport, step, outcome string) {
	AttestationRequestsTotal.WithLabelValues(transport, step, outcome).Inc()
}

// ObserveUpstreamRequest records the latency of one upstream HTTP call.
func ObserveUpstreamRequest(endpoint string, took time.Duration) {
	UpstreamRequestDurationSeconds.WithLabelValues(endpoint).Observe(took.Seconds())
}

// IncrementExchangeLockAttempt records one lock acquisition attempt.
func IncrementExchangeLockAttempt(result string) {
	ExchangeLockAttemptsTotal.WithLabelValues(result).Inc()
}

// IncrementEventPublished records one event publish attempt.
func IncrementEventPublished(outcome string) {
	CredentialEventsPublishedTotal.WithLabelValues(outcome).Inc()
}

// SetEventStreamClients sets the number of open event streams.
func SetEventStreamClients(n float64) {
	EventStreamClients.Set(n)
}

// IncrementEventStreamDropped records one event dropped by backpressure.
func IncrementEventStreamDropped() {
	EventStreamDroppedTotal.Inc()
}
