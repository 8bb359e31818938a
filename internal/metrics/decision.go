// SPDX-License-Identifier: MIT

// Package metrics exposes the Prometheus instruments of the edge
// authorization service and the rolling-window SLA monitor behind its
// latency contract.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelHit     = "hit"
	labelMiss    = "miss"
	labelUnknown = "unknown"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgeauth_decisions_total",
		Help: "Authorization decisions by request kind, outcome and denial code",
	}, []string{"kind", "outcome", "code"})

	decisionSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edgeauth_decision_seconds",
		Help:    "Decision latency from facade entry to decision, by request kind and cache path",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.08, 0.1, 0.25, 0.5, 1},
	}, []string{"kind", "cache"})

	cacheEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgeauth_cache_events_total",
		Help: "Cache hits, misses, evictions and sweep removals by cache",
	}, []string{"cache", "event"})

	slaViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgeauth_sla_violations_total",
		Help: "Responses exceeding the latency SLA, by cache path",
	}, []string{"cache"})

	keyTokensIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edgeauth_key_tokens_issued_total",
		Help: "Key tokens minted",
	})

	responseTimeP95 = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgeauth_response_time_p95_seconds",
		Help: "Rolling p95 of decision latency",
	})

	responseTimeP99 = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edgeauth_response_time_p99_seconds",
		Help: "Rolling p99 of decision latency",
	})
)

// ObserveDecision records one decision outcome with its latency.
func ObserveDecision(kind string, cacheHit bool, allowed bool, code string, dur time.Duration) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	decisionsTotal.WithLabelValues(normalizeKind(kind), outcome, normalizeCode(code)).Inc()
	decisionSeconds.WithLabelValues(normalizeKind(kind), cacheLabel(cacheHit)).Observe(dur.Seconds())
}

// IncCacheEvent records a cache hit/miss/eviction/sweep for the named cache.
func IncCacheEvent(cache, event string) {
	cacheEventsTotal.WithLabelValues(normalizeCache(cache), normalizeEvent(event)).Inc()
}

// AddCacheEvents records n occurrences of a cache event at once, as the
// janitor does after a sweep.
func AddCacheEvents(cache, event string, n int) {
	if n <= 0 {
		return
	}
	cacheEventsTotal.WithLabelValues(normalizeCache(cache), normalizeEvent(event)).Add(float64(n))
}

// IncSLAViolation records a response that broke the latency contract.
func IncSLAViolation(cacheHit bool) {
	slaViolationsTotal.WithLabelValues(cacheLabel(cacheHit)).Inc()
}

// IncKeyTokenIssued records a minted key token.
func IncKeyTokenIssued() {
	keyTokensIssuedTotal.Inc()
}

// SetPercentiles publishes the rolling percentile gauges.
func SetPercentiles(p95, p99 time.Duration) {
	responseTimeP95.Set(p95.Seconds())
	responseTimeP99.Set(p99.Seconds())
}

func cacheLabel(hit bool) string {
	if hit {
		return labelHit
	}
	return labelMiss
}

func normalizeKind(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "segment", "manifest", "key":
		return strings.ToLower(strings.TrimSpace(kind))
	default:
		return labelUnknown
	}
}

func normalizeCache(cache string) string {
	switch strings.ToLower(strings.TrimSpace(cache)) {
	case "authorization", "manifest", "ticket", "keytoken":
		return strings.ToLower(strings.TrimSpace(cache))
	default:
		return labelUnknown
	}
}

func normalizeEvent(event string) string {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case labelHit, labelMiss, "eviction", "sweep", "invalidation":
		return strings.ToLower(strings.TrimSpace(event))
	default:
		return labelUnknown
	}
}

// normalizeCode keeps the denial-code label cardinality bounded to the
// known taxonomy.
func normalizeCode(code string) string {
	clean := strings.ToUpper(strings.TrimSpace(code))
	switch clean {
	case "":
		return "NONE"
	case "INVALID_REQUEST",
		"INVALID_TICKET",
		"CONTENT_MISMATCH",
		"TICKET_EXPIRED",
		"DEVICE_MISMATCH",
		"RESTRICTION_GEO",
		"RESTRICTION_AGE",
		"RESTRICTION_DEVICE",
		"RESTRICTION_CONCURRENT",
		"RESTRICTION_TIME",
		"INTERNAL_ERROR":
		return clean
	default:
		return "UNKNOWN"
	}
}
