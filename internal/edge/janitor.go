// SPDX-License-Identifier: MIT

package edge

import (
	"time"

	xglog "github.com/reelverse/edgeauth/internal/log"
	"github.com/reelverse/edgeauth/internal/metrics"
)

// runJanitor periodically sweeps expired entries out of the decision,
// manifest and ticket caches. Each sweep takes the cache locks only
// briefly; foreground requests are never stalled for the whole pass.
func (s *Service) runJanitor() {
	defer s.bg.Done()

	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stop:
			return
		}
	}
}

func (s *Service) sweepOnce() {
	now := s.now()
	decisions := s.decisions.Sweep(now)
	manifests := s.manifests.Sweep(now)
	tickets := s.tickets.Sweep()

	metrics.AddCacheEvents("authorization", "sweep", decisions)
	metrics.AddCacheEvents("manifest", "sweep", manifests)
	metrics.AddCacheEvents("ticket", "sweep", tickets)

	if decisions+manifests+tickets > 0 {
		s.logger.Debug().
			Str(xglog.FieldEvent, "janitor.sweep").
			Int("decisions", decisions).
			Int("manifests", manifests).
			Int("tickets", tickets).
			Msg("expired cache entries removed")
	}
}

// runMetricsEmitter periodically publishes an SLA snapshot to the log and
// the percentile gauges.
func (s *Service) runMetricsEmitter() {
	defer s.bg.Done()

	ticker := time.NewTicker(s.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.emitMetrics()
		case <-s.stop:
			return
		}
	}
}

func (s *Service) emitMetrics() {
	snap := s.sla.Snapshot()
	metrics.SetPercentiles(snap.P95, snap.P99)

	decisions, manifests := s.CacheSizes()
	s.logger.Info().
		Str(xglog.FieldEvent, "metrics.snapshot").
		Int("samples", snap.Count).
		Int64(xglog.FieldP95MS, snap.P95.Milliseconds()).
		Int64(xglog.FieldP99MS, snap.P99.Milliseconds()).
		Int64("violations", snap.Violations).
		Int("decision_cache_size", decisions).
		Int("manifest_cache_size", manifests).
		Msg("rolling latency snapshot")
}
