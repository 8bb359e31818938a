// SPDX-License-Identifier: MIT

// Package policy decides allow/deny for a validated ticket against the
// request context: expiry, device binding and the ticket's access
// restrictions, in that fixed order.
package policy

import (
	"strings"
	"time"

	"github.com/reelverse/edgeauth/internal/authz"
	"github.com/reelverse/edgeauth/internal/ticket"
)

// Result is the outcome of a policy evaluation. Unlike authz.Decision it
// may carry a Reason on allows (e.g. the cold-start grace marker); the
// facade strips it before the decision leaves the service.
type Result struct {
	Allowed  bool
	Code     authz.Code
	Reason   string
	CacheTTL time.Duration
}

// TTLConfig carries the cache TTLs the evaluator attaches to its results.
type TTLConfig struct {
	Default   time.Duration // allow
	Deny      time.Duration // expiry and restriction denials
	ColdStart time.Duration // allow during the grace window
}

// GraceFunc reports whether the cold-start grace window is active. The
// trigger is deployment-specific, so it is injected rather than guessed;
// SinceStartGrace is the default.
type GraceFunc func(now time.Time) bool

// SinceStartGrace returns a GraceFunc that is active for the given window
// after start. A zero window is never active.
func SinceStartGrace(start time.Time, window time.Duration) GraceFunc {
	return func(now time.Time) bool {
		return window > 0 && now.Sub(start) < window
	}
}

// ReasonColdStartGrace marks allows granted while caches warm after a
// deploy. It selects the reduced TTL and never reaches the caller.
const ReasonColdStartGrace = "COLD_START_GRACE"

// deviceMismatchTTL is deliberately long: a ticket bound to another device
// will not become valid for this one, so the denial may be cached hard.
const deviceMismatchTTL = 300 * time.Second

// Evaluator applies the ordered policy checks.
type Evaluator struct {
	ttl     TTLConfig
	inGrace GraceFunc
}

// NewEvaluator creates an evaluator. inGrace may be nil to disable the
// cold-start grace window.
func NewEvaluator(ttl TTLConfig, inGrace GraceFunc) *Evaluator {
	if inGrace == nil {
		inGrace = func(time.Time) bool { return false }
	}
	return &Evaluator{ttl: ttl, inGrace: inGrace}
}

// Evaluate runs the policy checks in their fixed order; the first failing
// check wins. Expiry and device binding are the cheapest and most
// security-critical checks, so they short-circuit before the restriction
// list.
func (e *Evaluator) Evaluate(t *ticket.Ticket, req authz.ReqContext, now time.Time) Result {
	if t.Expired(now) {
		return Result{Code: authz.CodeTicketExpired, Reason: "ticket expired", CacheTTL: e.ttl.Deny}
	}

	if t.DeviceID != "" && t.DeviceID != req.DeviceID {
		return Result{Code: authz.CodeDeviceMismatch, Reason: "ticket bound to another device", CacheTTL: deviceMismatchTTL}
	}

	for i := range t.Restrictions {
		if res := e.checkRestriction(&t.Restrictions[i], req, now); res != nil {
			return *res
		}
	}

	if e.inGrace(now) {
		return Result{Allowed: true, Reason: ReasonColdStartGrace, CacheTTL: e.ttl.ColdStart}
	}
	return Result{Allowed: true, CacheTTL: e.ttl.Default}
}

// checkRestriction returns a deny result when the restriction is violated,
// nil otherwise.
func (e *Evaluator) checkRestriction(r *ticket.Restriction, req authz.ReqContext, now time.Time) *Result {
	deny := func(code authz.Code, fallback string) *Result {
		reason := r.Message
		if reason == "" {
			reason = fallback
		}
		return &Result{Code: code, Reason: reason, CacheTTL: e.ttl.Deny}
	}

	switch r.Kind {
	case ticket.RestrictionGeo:
		country := ""
		if req.Geo != nil {
			country = req.Geo.Country
		}
		if !containsFold(r.Countries, country) {
			return deny(authz.CodeRestrictionGeo, "region not licensed for this content")
		}

	case ticket.RestrictionDevice:
		if !containsFold(r.Devices, req.DeviceID) {
			return deny(authz.CodeRestrictionDevice, "device not permitted for this content")
		}

	case ticket.RestrictionTime:
		if !r.NotBefore.IsZero() && now.Before(r.NotBefore) {
			return deny(authz.CodeRestrictionTime, "playback window not yet open")
		}
		if !r.NotAfter.IsZero() && now.After(r.NotAfter) {
			return deny(authz.CodeRestrictionTime, "playback window closed")
		}

	case ticket.RestrictionAge:
		if req.ViewerAge < r.MinAge {
			return deny(authz.CodeRestrictionAge, "viewer age below content rating")
		}

	case ticket.RestrictionConcurrent:
		// Stream counting lives in the concurrency service; this ticket
		// attribute is advisory at the edge.

	default:
		// Unknown restriction kinds fail closed.
		return deny(authz.CodeInvalidTicket, "unknown restriction kind")
	}
	return nil
}

func containsFold(values []string, v string) bool {
	for _, item := range values {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
