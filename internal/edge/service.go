// SPDX-License-Identifier: MIT

// Package edge is the orchestrating facade of the authorization service.
// It is the only entry point for edge gateways: every failure inside it is
// converted into a deny decision, never an error, so callers can fail
// closed uniformly.
package edge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reelverse/edgeauth/internal/authz"
	"github.com/reelverse/edgeauth/internal/config"
	"github.com/reelverse/edgeauth/internal/health"
	"github.com/reelverse/edgeauth/internal/keytoken"
	xglog "github.com/reelverse/edgeauth/internal/log"
	"github.com/reelverse/edgeauth/internal/manifest"
	"github.com/reelverse/edgeauth/internal/metrics"
	"github.com/reelverse/edgeauth/internal/policy"
	"github.com/reelverse/edgeauth/internal/ticket"
)

// internalErrorTTL keeps denials caused by internal faults out of the
// cache long before the regular deny TTL, so a transient fault does not
// stick.
const internalErrorTTL = 10 * time.Second

// Deps are the collaborators injected into the service. Resolver and
// Fetcher are the two external systems; everything else is in-process.
type Deps struct {
	Resolver ticket.Resolver
	Fetcher  manifest.Fetcher

	// DecisionCache overrides the default in-memory cache (e.g. Redis).
	DecisionCache authz.Cache

	// Clock overrides time.Now, for tests.
	Clock func() time.Time

	// Grace overrides the cold-start grace hook. Nil derives it from
	// cfg.ColdStartGrace and the construction time.
	Grace policy.GraceFunc
}

// Service wires the ticket store, policy evaluator, caches, sanitizer,
// key-token issuer and SLA monitor behind the five facade operations.
type Service struct {
	cfg       config.Config
	tickets   *ticket.Store
	evaluator *policy.Evaluator
	decisions authz.Cache
	manifests *manifest.Cache
	sanitizer *manifest.Sanitizer
	fetcher   manifest.Fetcher
	issuer    *keytoken.Issuer
	sla       *metrics.SLAMonitor
	now       func() time.Time
	logger    zerolog.Logger

	stop      chan struct{}
	bg        sync.WaitGroup
	closeOnce sync.Once
}

// HealthStatus is the facade-level health summary.
type HealthStatus struct {
	Status  health.Status    `json:"status"`
	Metrics metrics.Snapshot `json:"metrics"`
}

// New constructs the service. The configuration must already be validated.
func New(cfg config.Config, deps Deps) *Service {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	logger := xglog.WithComponent("edge")

	grace := deps.Grace
	if grace == nil {
		grace = policy.SinceStartGrace(now(), cfg.ColdStartGrace)
	}

	decisions := deps.DecisionCache
	if decisions == nil {
		decisions = authz.NewMemoryCache(cfg.MaxCacheSize)
	}

	sla := metrics.NewSLAMonitor(func(dur time.Duration, cacheHit bool) {
		logger.Warn().
			Str(xglog.FieldEvent, "sla.violation").
			Int64(xglog.FieldDurationMS, dur.Milliseconds()).
			Bool(xglog.FieldCacheHit, cacheHit).
			Msg("response exceeded latency budget")
	})

	s := &Service{
		cfg: cfg,
		tickets: ticket.NewStore(deps.Resolver, now),
		evaluator: policy.NewEvaluator(policy.TTLConfig{
			Default:   cfg.DefaultCacheTTL,
			Deny:      cfg.DenyCacheTTL,
			ColdStart: cfg.ColdStartTTL,
		}, grace),
		decisions: decisions,
		manifests: manifest.NewCache(cfg.MaxCacheSize),
		sanitizer: manifest.NewSanitizer(cfg.KeyEndpointBase),
		fetcher:   deps.Fetcher,
		issuer:    keytoken.NewIssuer([]byte(cfg.KeyTokenSecret), cfg.KeyTokenTTL, now),
		sla:       sla,
		now:       now,
		logger:    logger,
		stop:      make(chan struct{}),
	}

	s.bg.Add(2)
	go s.runJanitor()
	go s.runMetricsEmitter()
	return s
}

// AuthorizeSegment decides whether one media segment may be served.
func (s *Service) AuthorizeSegment(ctx context.Context, req authz.SegmentRequest) authz.Decision {
	d, _ := s.decide(ctx, authz.KindSegment, req.ReqContext)
	return d
}

// AuthorizeManifest validates the ticket and returns the sanitized
// manifest. On denial the response is nil and the decision says why.
func (s *Service) AuthorizeManifest(ctx context.Context, req authz.ManifestRequest) (*manifest.Response, authz.Decision) {
	d, _ := s.decide(ctx, authz.KindManifest, req.ReqContext)
	if !d.Allowed {
		return nil, d
	}

	resp, err := s.buildManifest(ctx, req, d.CorrelationID)
	if err != nil {
		s.logger.Error().Err(err).
			Str(xglog.FieldCorrelationID, d.CorrelationID).
			Str(xglog.FieldContentID, req.ContentID).
			Msg("manifest sanitization failed")
		return nil, authz.Deny(authz.CodeInternalError, "manifest unavailable", internalErrorTTL).
			WithCorrelation(d.CorrelationID)
	}
	return resp, d
}

func (s *Service) buildManifest(ctx context.Context, req authz.ManifestRequest, corr string) (*manifest.Response, error) {
	now := s.now()

	raw, remaining, ok := s.manifests.Get(req.ContentID, req.ManifestType, now)
	if ok {
		metrics.IncCacheEvent("manifest", "hit")
	} else {
		metrics.IncCacheEvent("manifest", "miss")
		var err error
		raw, err = s.fetcher.Fetch(ctx, req.ContentID, req.ManifestType)
		if err != nil {
			return nil, err
		}
		remaining = s.cfg.DefaultCacheTTL
		s.manifests.Set(req.ContentID, req.ManifestType, raw, remaining, now)
	}

	// Sanitize per request so the key URIs carry the requesting ticket,
	// not whichever ticket populated the cache.
	text, keyURIs, err := s.sanitizer.Sanitize(raw, req.ManifestType, req.ContentID, req.TicketID)
	if err != nil {
		return nil, err
	}
	return &manifest.Response{
		ContentID:     req.ContentID,
		Type:          req.ManifestType,
		Content:       text,
		KeyURIs:       keyURIs,
		CacheTTL:      remaining,
		CorrelationID: corr,
	}, nil
}

// IssueKeyToken validates the ticket and mints a short-lived token bound
// to the request. On denial the token is nil and the decision says why.
func (s *Service) IssueKeyToken(ctx context.Context, req authz.KeyRequest) (*keytoken.Token, authz.Decision) {
	d, _ := s.decide(ctx, authz.KindKey, req.ReqContext)
	if !d.Allowed {
		return nil, d
	}

	tok, err := s.issuer.Issue(keytoken.Binding{
		TicketID:     req.TicketID,
		ContentID:    req.ContentID,
		SegmentRange: req.SegmentRange,
		ClientIP:     req.ClientIP,
		DeviceID:     req.DeviceID,
		KeyID:        req.KeyID,
	}, d.CorrelationID)
	if err != nil {
		s.logger.Error().Err(err).
			Str(xglog.FieldCorrelationID, d.CorrelationID).
			Str(xglog.FieldKeyID, req.KeyID).
			Msg("key token issuance failed")
		return nil, authz.Deny(authz.CodeInternalError, "token issuance failed", internalErrorTTL).
			WithCorrelation(d.CorrelationID)
	}
	metrics.IncKeyTokenIssued()
	return &tok, d
}

// VerifyKeyToken checks a presented key token against the presenting
// request's binding.
func (s *Service) VerifyKeyToken(tokenString string, b keytoken.Binding) error {
	return s.issuer.Verify(tokenString, b)
}

// decide runs the cached decision path shared by all three request kinds.
// The bool reports whether the decision came from cache.
func (s *Service) decide(ctx context.Context, kind authz.Kind, rc authz.ReqContext) (authz.Decision, bool) {
	start := s.now()
	corr := uuid.NewString()

	fp := authz.Fingerprint(kind, rc.TicketID, rc.ContentID, rc.DeviceID, rc.ClientIP)
	if cached, hits, ok := s.decisions.Get(fp, start); ok {
		metrics.IncCacheEvent("authorization", "hit")
		d := cached.WithCorrelation(corr)
		d.ProcessingTime = s.now().Sub(start)
		s.finish(kind, d, true, start)
		s.logger.Debug().
			Str(xglog.FieldCorrelationID, corr).
			Str(xglog.FieldTicketID, rc.TicketID).
			Bool(xglog.FieldAllowed, d.Allowed).
			Int64("hit_count", hits).
			Msg("decision served from cache")
		return d, true
	}
	metrics.IncCacheEvent("authorization", "miss")

	d := s.evaluateFresh(ctx, kind, rc, fp, corr, start)
	d.ProcessingTime = s.now().Sub(start)
	s.finish(kind, d, false, start)
	return d, false
}

// evaluateFresh is the cache-miss path. Panics become INTERNAL_ERROR
// denials: the facade never lets a fault escape as anything but a deny.
func (s *Service) evaluateFresh(ctx context.Context, kind authz.Kind, rc authz.ReqContext, fp, corr string, start time.Time) (d authz.Decision) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str(xglog.FieldCorrelationID, corr).
				Interface("panic", r).
				Msg("panic during evaluation")
			d = authz.Deny(authz.CodeInternalError, "internal evaluation fault", internalErrorTTL).
				WithCorrelation(corr)
			s.decisions.Set(fp, d, authz.EntryMeta{ContentID: rc.ContentID}, start)
		}
	}()

	if reason, ok := s.checkRequest(rc, start); !ok {
		// Stale or malformed requests are rejected outright and not
		// cached: the fingerprint does not cover the timestamp, so a
		// later fresh request may legitimately succeed.
		return authz.Deny(authz.CodeInvalidRequest, reason, 0).WithCorrelation(corr)
	}

	t, err := s.tickets.Validate(ctx, rc.TicketID)
	if err != nil {
		d = authz.Deny(authz.CodeInvalidTicket, "ticket unknown or unparseable", s.cfg.DenyCacheTTL).
			WithCorrelation(corr)
		s.decisions.Set(fp, d, authz.EntryMeta{ContentID: rc.ContentID}, start)
		s.logDeny(corr, rc, d)
		return d
	}

	if t.ContentID != rc.ContentID {
		d = authz.Deny(authz.CodeContentMismatch, "ticket grants different content", s.cfg.DenyCacheTTL).
			WithCorrelation(corr)
		s.decisions.Set(fp, d, authz.EntryMeta{ContentID: rc.ContentID, UserID: t.UserID}, start)
		s.logDeny(corr, rc, d)
		return d
	}

	res := s.evaluator.Evaluate(t, rc, start)
	if res.Allowed {
		d = authz.Allow(res.CacheTTL).WithCorrelation(corr)
	} else {
		d = authz.Deny(res.Code, res.Reason, res.CacheTTL).WithCorrelation(corr)
		s.logDeny(corr, rc, d)
	}
	s.decisions.Set(fp, d, authz.EntryMeta{ContentID: rc.ContentID, UserID: t.UserID}, start)
	return d
}

// checkRequest validates presence of the identity fields and the request
// freshness window.
func (s *Service) checkRequest(rc authz.ReqContext, now time.Time) (string, bool) {
	if rc.TicketID == "" || rc.ContentID == "" || rc.DeviceID == "" || rc.ClientIP == "" {
		return "missing required request fields", false
	}
	if rc.Timestamp <= 0 {
		return "missing request timestamp", false
	}
	// The window is symmetric: a timestamp far in the future is as suspect
	// as a replayed old one.
	if skew := now.Sub(rc.Time()); skew > s.cfg.StalenessWindow || skew < -s.cfg.StalenessWindow {
		return "request outside freshness window", false
	}
	return "", true
}

func (s *Service) finish(kind authz.Kind, d authz.Decision, cacheHit bool, start time.Time) {
	dur := s.now().Sub(start)
	metrics.ObserveDecision(string(kind), cacheHit, d.Allowed, string(d.Code), dur)
	s.sla.Record(dur, cacheHit)
}

func (s *Service) logDeny(corr string, rc authz.ReqContext, d authz.Decision) {
	s.logger.Info().
		Str(xglog.FieldEvent, "authz.deny").
		Str(xglog.FieldCorrelationID, corr).
		Str(xglog.FieldTicketID, rc.TicketID).
		Str(xglog.FieldContentID, rc.ContentID).
		Str(xglog.FieldDeviceID, rc.DeviceID).
		Str(xglog.FieldErrorCode, string(d.Code)).
		Str(xglog.FieldReason, d.Reason).
		Msg("request denied")
}

// InvalidateCache purges cached decisions and manifests. With a contentID
// it removes entries referencing that content from both caches; with a
// userID it removes that user's cached decisions; with neither it clears
// both caches entirely. Tickets and key tokens expire independently.
func (s *Service) InvalidateCache(contentID, userID string) {
	switch {
	case contentID == "" && userID == "":
		s.decisions.Clear()
		s.manifests.Clear()
		s.logger.Info().Str(xglog.FieldEvent, "cache.clear").Msg("all caches cleared")
	default:
		removed := 0
		if contentID != "" {
			removed += s.decisions.InvalidateContent(contentID)
			removed += s.manifests.InvalidateContent(contentID)
		}
		if userID != "" {
			removed += s.decisions.InvalidateUser(userID)
		}
		s.logger.Info().
			Str(xglog.FieldEvent, "cache.invalidate").
			Str(xglog.FieldContentID, contentID).
			Str(xglog.FieldUserID, userID).
			Int("removed", removed).
			Msg("cache entries invalidated")
	}
	metrics.IncCacheEvent("authorization", "invalidation")
}

// HealthCheck reports the facade health: degraded when the rolling p95
// exceeds the relaxed overall threshold.
func (s *Service) HealthCheck() HealthStatus {
	status := health.StatusHealthy
	if !s.sla.Healthy() {
		status = health.StatusDegraded
	}
	return HealthStatus{Status: status, Metrics: s.sla.Snapshot()}
}

// SLA exposes the monitor for health checkers and tests.
func (s *Service) SLA() *metrics.SLAMonitor {
	return s.sla
}

// CacheSizes returns the current entry counts of the decision and
// manifest caches.
func (s *Service) CacheSizes() (decisions, manifests int) {
	return s.decisions.Len(), s.manifests.Len()
}

// Close stops the background tasks and the key-token table.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.bg.Wait()
		s.issuer.Close()
	})
}
