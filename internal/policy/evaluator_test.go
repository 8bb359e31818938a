// SPDX-License-Identifier: MIT

package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/reelverse/edgeauth/internal/authz"
	"github.com/reelverse/edgeauth/internal/ticket"
)

var testTTLs = TTLConfig{
	Default:   300 * time.Second,
	Deny:      60 * time.Second,
	ColdStart: 30 * time.Second,
}

func validTicket(now time.Time) *ticket.Ticket {
	return &ticket.Ticket{
		ID:           "tk1",
		ContentID:    "content_1",
		UserID:       "user_1",
		DeviceID:     "device_1",
		Entitlements: []string{"view"},
		IssuedAt:     now.Add(-time.Hour),
		ExpiresAt:    now.Add(time.Hour),
	}
}

func request() authz.ReqContext {
	return authz.ReqContext{
		TicketID:  "tk1",
		ContentID: "content_1",
		ClientIP:  "203.0.113.7",
		DeviceID:  "device_1",
		Geo:       &authz.GeoLocation{Country: "DE"},
		ViewerAge: 30,
	}
}

func TestEvaluate_Allow(t *testing.T) {
	now := time.Now()
	e := NewEvaluator(testTTLs, nil)

	res := e.Evaluate(validTicket(now), request(), now)

	assert.True(t, res.Allowed)
	assert.Empty(t, res.Code)
	assert.Equal(t, testTTLs.Default, res.CacheTTL)
}

func TestEvaluate_ExpiredTicketWinsOverEverything(t *testing.T) {
	now := time.Now()
	tk := validTicket(now)
	tk.ExpiresAt = now.Add(-time.Second)
	// Also break device binding; expiry must still be the reported code.
	tk.DeviceID = "other-device"

	res := NewEvaluator(testTTLs, nil).Evaluate(tk, request(), now)

	assert.False(t, res.Allowed)
	assert.Equal(t, authz.CodeTicketExpired, res.Code)
	assert.Equal(t, testTTLs.Deny, res.CacheTTL)
}

func TestEvaluate_ExpiryBoundaryIsExclusive(t *testing.T) {
	now := time.Now()
	tk := validTicket(now)
	tk.ExpiresAt = now

	res := NewEvaluator(testTTLs, nil).Evaluate(tk, request(), now)
	assert.Equal(t, authz.CodeTicketExpired, res.Code, "a ticket is usable only while now < expiresAt")
}

func TestEvaluate_DeviceMismatch(t *testing.T) {
	now := time.Now()
	req := request()
	req.DeviceID = "device_2"

	res := NewEvaluator(testTTLs, nil).Evaluate(validTicket(now), req, now)

	assert.False(t, res.Allowed)
	assert.Equal(t, authz.CodeDeviceMismatch, res.Code)
	assert.Equal(t, 300*time.Second, res.CacheTTL)
}

func TestEvaluate_DeviceCheckBeforeRestrictions(t *testing.T) {
	now := time.Now()
	tk := validTicket(now)
	tk.Restrictions = []ticket.Restriction{
		{Kind: ticket.RestrictionGeo, Countries: []string{"US"}},
	}
	req := request()
	req.DeviceID = "device_2"

	res := NewEvaluator(testTTLs, nil).Evaluate(tk, req, now)
	assert.Equal(t, authz.CodeDeviceMismatch, res.Code)
}

func TestEvaluate_GeoRestriction(t *testing.T) {
	now := time.Now()
	tk := validTicket(now)
	tk.Restrictions = []ticket.Restriction{
		{Kind: ticket.RestrictionGeo, Countries: []string{"DE", "AT"}},
	}

	res := NewEvaluator(testTTLs, nil).Evaluate(tk, request(), now)
	assert.True(t, res.Allowed, "DE is in the allow-list")

	req := request()
	req.Geo = &authz.GeoLocation{Country: "US"}
	res = NewEvaluator(testTTLs, nil).Evaluate(tk, req, now)
	assert.Equal(t, authz.CodeRestrictionGeo, res.Code)
	assert.Equal(t, testTTLs.Deny, res.CacheTTL)
}

func TestEvaluate_GeoRestrictionWithoutGeoFailsClosed(t *testing.T) {
	now := time.Now()
	tk := validTicket(now)
	tk.Restrictions = []ticket.Restriction{
		{Kind: ticket.RestrictionGeo, Countries: []string{"DE"}},
	}
	req := request()
	req.Geo = nil

	res := NewEvaluator(testTTLs, nil).Evaluate(tk, req, now)
	assert.Equal(t, authz.CodeRestrictionGeo, res.Code)
}

func TestEvaluate_DeviceRestriction(t *testing.T) {
	now := time.Now()
	tk := validTicket(now)
	tk.Restrictions = []ticket.Restriction{
		{Kind: ticket.RestrictionDevice, Devices: []string{"device_1"}},
	}

	res := NewEvaluator(testTTLs, nil).Evaluate(tk, request(), now)
	assert.True(t, res.Allowed)

	tk.Restrictions[0].Devices = []string{"device_9"}
	// Bind the ticket to the requesting device so the restriction itself
	// is what denies.
	res = NewEvaluator(testTTLs, nil).Evaluate(tk, request(), now)
	assert.Equal(t, authz.CodeRestrictionDevice, res.Code)
}

func TestEvaluate_TimeWindowRestriction(t *testing.T) {
	now := time.Now()
	tk := validTicket(now)
	tk.Restrictions = []ticket.Restriction{
		{Kind: ticket.RestrictionTime, NotBefore: now.Add(time.Hour)},
	}

	res := NewEvaluator(testTTLs, nil).Evaluate(tk, request(), now)
	assert.Equal(t, authz.CodeRestrictionTime, res.Code)

	tk.Restrictions = []ticket.Restriction{
		{Kind: ticket.RestrictionTime, NotAfter: now.Add(-time.Hour)},
	}
	res = NewEvaluator(testTTLs, nil).Evaluate(tk, request(), now)
	assert.Equal(t, authz.CodeRestrictionTime, res.Code)

	tk.Restrictions = []ticket.Restriction{
		{Kind: ticket.RestrictionTime, NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour)},
	}
	res = NewEvaluator(testTTLs, nil).Evaluate(tk, request(), now)
	assert.True(t, res.Allowed)
}

func TestEvaluate_AgeRestriction(t *testing.T) {
	now := time.Now()
	tk := validTicket(now)
	tk.Restrictions = []ticket.Restriction{
		{Kind: ticket.RestrictionAge, MinAge: 18},
	}
	req := request()
	req.ViewerAge = 16

	res := NewEvaluator(testTTLs, nil).Evaluate(tk, req, now)
	assert.Equal(t, authz.CodeRestrictionAge, res.Code)
}

func TestEvaluate_RestrictionsInTicketOrder(t *testing.T) {
	now := time.Now()
	tk := validTicket(now)
	tk.Restrictions = []ticket.Restriction{
		{Kind: ticket.RestrictionAge, MinAge: 18},
		{Kind: ticket.RestrictionGeo, Countries: []string{"US"}},
	}
	req := request()
	req.ViewerAge = 0

	// Both restrictions are violated; the first in ticket order reports.
	res := NewEvaluator(testTTLs, nil).Evaluate(tk, req, now)
	assert.Equal(t, authz.CodeRestrictionAge, res.Code)
}

func TestEvaluate_RestrictionMessagePreferred(t *testing.T) {
	now := time.Now()
	tk := validTicket(now)
	tk.Restrictions = []ticket.Restriction{
		{Kind: ticket.RestrictionGeo, Countries: []string{"US"}, Message: "not available in your region"},
	}

	res := NewEvaluator(testTTLs, nil).Evaluate(tk, request(), now)
	assert.Equal(t, "not available in your region", res.Reason)
}

func TestEvaluate_UnknownRestrictionFailsClosed(t *testing.T) {
	now := time.Now()
	tk := validTicket(now)
	tk.Restrictions = []ticket.Restriction{{Kind: "hologram"}}

	res := NewEvaluator(testTTLs, nil).Evaluate(tk, request(), now)
	assert.False(t, res.Allowed)
	assert.Equal(t, authz.CodeInvalidTicket, res.Code)
}

func TestEvaluate_ColdStartGrace(t *testing.T) {
	now := time.Now()
	grace := SinceStartGrace(now.Add(-10*time.Second), 30*time.Second)

	res := NewEvaluator(testTTLs, grace).Evaluate(validTicket(now), request(), now)

	assert.True(t, res.Allowed)
	assert.Equal(t, ReasonColdStartGrace, res.Reason)
	assert.Equal(t, testTTLs.ColdStart, res.CacheTTL, "grace allows get the reduced TTL")
}

func TestSinceStartGrace_Expiry(t *testing.T) {
	start := time.Now()
	grace := SinceStartGrace(start, 30*time.Second)

	assert.True(t, grace(start.Add(10*time.Second)))
	assert.False(t, grace(start.Add(31*time.Second)))
	assert.False(t, SinceStartGrace(start, 0)(start), "zero window never activates")
}
