// SPDX-License-Identifier: MIT

package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// The latency contract of the whole subsystem: answers must come back
// within these budgets, looser on a cache miss because only that path may
// touch the upstream ticket issuer.
const (
	SLACacheHit  = 50 * time.Millisecond
	SLACacheMiss = 80 * time.Millisecond

	// HealthyP95 is the relaxed overall threshold used by health checks.
	HealthyP95 = 80 * time.Millisecond

	windowSize = 1000
)

// Snapshot is a point-in-time view of the rolling latency window.
type Snapshot struct {
	Count      int           `json:"count"`
	Average    time.Duration `json:"average"`
	P95        time.Duration `json:"p95"`
	P99        time.Duration `json:"p99"`
	Violations int64         `json:"violations"`
}

// ViolationFunc is invoked synchronously when a sample breaks the SLA.
// Implementations must be fast; they run on the request path.
type ViolationFunc func(dur time.Duration, cacheHit bool)

// SLAMonitor keeps a bounded rolling window of response-time samples and
// recomputes average/p95/p99 on every insert.
type SLAMonitor struct {
	mu          sync.Mutex
	samples     []time.Duration // ring buffer
	next        int
	avg         time.Duration
	p95         time.Duration
	p99         time.Duration
	violations  int64
	onViolation ViolationFunc
}

// NewSLAMonitor creates a monitor. onViolation may be nil.
func NewSLAMonitor(onViolation ViolationFunc) *SLAMonitor {
	return &SLAMonitor{
		samples:     make([]time.Duration, 0, windowSize),
		onViolation: onViolation,
	}
}

// Record adds a response-time sample and updates the derived statistics.
// It also updates the Prometheus gauges and, when the sample violates the
// SLA for its cache path, counts the violation and fires the callback.
func (m *SLAMonitor) Record(dur time.Duration, cacheHit bool) {
	budget := SLACacheMiss
	if cacheHit {
		budget = SLACacheHit
	}
	violated := dur > budget

	m.mu.Lock()
	if len(m.samples) < windowSize {
		m.samples = append(m.samples, dur)
	} else {
		m.samples[m.next] = dur
		m.next = (m.next + 1) % windowSize
	}
	m.recompute()
	if violated {
		m.violations++
	}
	p95, p99 := m.p95, m.p99
	m.mu.Unlock()

	SetPercentiles(p95, p99)
	if violated {
		IncSLAViolation(cacheHit)
		if m.onViolation != nil {
			m.onViolation(dur, cacheHit)
		}
	}
}

// recompute derives avg/p95/p99 from the current window. Caller holds the
// lock.
func (m *SLAMonitor) recompute() {
	n := len(m.samples)
	if n == 0 {
		return
	}

	sorted := make([]time.Duration, n)
	copy(sorted, m.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, s := range sorted {
		sum += s
	}
	m.avg = sum / time.Duration(n)
	m.p95 = percentile(sorted, 0.95)
	m.p99 = percentile(sorted, 0.99)
}

// percentile is nearest-rank on an already sorted slice.
func percentile(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// Snapshot returns the current rolling statistics.
func (m *SLAMonitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Count:      len(m.samples),
		Average:    m.avg,
		P95:        m.p95,
		P99:        m.p99,
		Violations: m.violations,
	}
}

// Healthy reports whether the rolling p95 is within the relaxed overall
// threshold. An empty window is healthy.
func (m *SLAMonitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples) == 0 || m.p95 <= HealthyP95
}
