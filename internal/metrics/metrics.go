// Package metrics implements the metrics aggregator/validator described in
// spec §4.7/§8 (component Q): deriving rates from raw counters and
// enforcing guardrails a phase may configure via metricsGuardrails.
//
// The teacher imports github.com/prometheus/client_golang in go.mod but
// never references it outside a test file — its own Collector
// (internal/metrics/metrics.go) is a hand-rolled map-based accumulator.
// This package wires prometheus/client_golang for real instead of
// reproducing that hand-rolled shape, since a real Prometheus registry is
// exactly what a metrics aggregator like this should expose.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the process-wide metrics aggregator.
type Registry struct {
	reg *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestFailures *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	branchJumpsIllegal *prometheus.CounterVec
}

// New creates a Registry with every metric this module emits registered
// against a fresh prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablegate_requests_total",
			Help: "Total stableRequest calls by route and outcome.",
		}, []string{"route", "outcome"}),
		requestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablegate_request_failures_total",
			Help: "Total stableRequest calls that surfaced a failure.",
		}, []string{"route"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stablegate_request_duration_seconds",
			Help:    "stableRequest call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablegate_retries_total",
			Help: "Total retry attempts issued.",
		}, []string{"route"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablegate_cache_hits_total",
			Help: "Response cache hits.",
		}, []string{"route"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablegate_cache_misses_total",
			Help: "Response cache misses.",
		}, []string{"route"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stablegate_circuit_breaker_state",
			Help: "Circuit breaker state: 0=CLOSED, 1=OPEN, 2=HALF_OPEN.",
		}, []string{"route"}),
		branchJumpsIllegal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stablegate_branch_jump_illegal_total",
			Help: "Branch decision hooks that requested an illegal jump.",
		}, []string{"branch"}),
	}
	reg.MustRegister(r.requestsTotal, r.requestFailures, r.requestDuration, r.retriesTotal, r.cacheHits, r.cacheMisses, r.breakerState, r.branchJumpsIllegal)
	return r
}

// Registerer exposes the underlying prometheus.Registry for an HTTP
// exposition handler (promhttp.HandlerFor(r.Registerer(), ...)).
func (r *Registry) Registerer() *prometheus.Registry { return r.reg }

func (r *Registry) RecordRequest(route, outcome string, duration time.Duration) {
	r.requestsTotal.WithLabelValues(route, outcome).Inc()
	r.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
	if outcome == "failure" {
		r.requestFailures.WithLabelValues(route).Inc()
	}
}

func (r *Registry) RecordRetry(route string)      { r.retriesTotal.WithLabelValues(route).Inc() }
func (r *Registry) RecordCacheHit(route string)   { r.cacheHits.WithLabelValues(route).Inc() }
func (r *Registry) RecordCacheMiss(route string)  { r.cacheMisses.WithLabelValues(route).Inc() }
func (r *Registry) RecordBranchJumpIllegal(branch string) {
	r.branchJumpsIllegal.WithLabelValues(branch).Inc()
}

// SetBreakerState records the current circuit breaker state (spec's
// CircuitBreakerState serialized as 0/1/2).
func (r *Registry) SetBreakerState(route string, state int) {
	r.breakerState.WithLabelValues(route).Set(float64(state))
}

// Snapshot is a point-in-time view used by guardrail checks.
type Snapshot struct {
	Requests int64
	Failures int64
	Retries  int64
	CacheHits int64
	CacheMisses int64
}

// ErrorRate returns failures/requests * 100, or 0 when there have been no
// requests.
func (s Snapshot) ErrorRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Requests) * 100
}

// CacheHitRate returns hits/(hits+misses) * 100, or 0 with no lookups.
func (s Snapshot) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total) * 100
}

// Guardrails is the set of thresholds a phase may configure via
// metricsGuardrails (spec §3, Phase.metricsGuardrails).
type Guardrails struct {
	MaxErrorRatePercent float64 // 0 disables the check
	MinCacheHitRatePercent float64
	MaxRetriesPerRequest float64
}

// Check evaluates snap against g, returning an error describing the first
// guardrail violated.
func (g Guardrails) Check(snap Snapshot) error {
	if g.MaxErrorRatePercent > 0 && snap.ErrorRate() > g.MaxErrorRatePercent {
		return fmt.Errorf("metrics guardrail: error rate %.2f%% exceeds max %.2f%%", snap.ErrorRate(), g.MaxErrorRatePercent)
	}
	if g.MinCacheHitRatePercent > 0 && snap.Requests > 0 && snap.CacheHitRate() < g.MinCacheHitRatePercent {
		return fmt.Errorf("metrics guardrail: cache hit rate %.2f%% below min %.2f%%", snap.CacheHitRate(), g.MinCacheHitRatePercent)
	}
	if g.MaxRetriesPerRequest > 0 && snap.Requests > 0 {
		perReq := float64(snap.Retries) / float64(snap.Requests)
		if perReq > g.MaxRetriesPerRequest {
			return fmt.Errorf("metrics guardrail: %.2f retries/request exceeds max %.2f", perReq, g.MaxRetriesPerRequest)
		}
	}
	return nil
}
