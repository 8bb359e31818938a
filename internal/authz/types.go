// SPDX-License-Identifier: MIT

// Package authz defines the edge authorization request and decision types
// and the bounded decision cache.
package authz

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Code identifies why a request was denied. Denials are terminal; the edge
// gateway fails closed and never retries through this service.
type Code string

const (
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeInvalidTicket         Code = "INVALID_TICKET"
	CodeContentMismatch       Code = "CONTENT_MISMATCH"
	CodeTicketExpired         Code = "TICKET_EXPIRED"
	CodeDeviceMismatch        Code = "DEVICE_MISMATCH"
	CodeRestrictionGeo        Code = "RESTRICTION_GEO"
	CodeRestrictionAge        Code = "RESTRICTION_AGE"
	CodeRestrictionDevice     Code = "RESTRICTION_DEVICE"
	CodeRestrictionConcurrent Code = "RESTRICTION_CONCURRENT"
	CodeRestrictionTime       Code = "RESTRICTION_TIME"
	CodeInternalError         Code = "INTERNAL_ERROR"
)

// Kind distinguishes the request flavors sharing the decision cache.
type Kind string

const (
	KindSegment  Kind = "segment"
	KindManifest Kind = "manifest"
	KindKey      Kind = "key"
)

// ManifestType enumerates the supported manifest formats.
type ManifestType string

const (
	ManifestHLS  ManifestType = "hls"
	ManifestDASH ManifestType = "dash"
	ManifestCMAF ManifestType = "cmaf"
)

// GeoLocation describes the network origin of a request as resolved by the
// edge gateway.
type GeoLocation struct {
	Country string  `json:"country,omitempty"`
	Region  string  `json:"region,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
}

// ReqContext carries the fields common to every authorization request.
// Timestamp is epoch milliseconds set by the gateway when the request
// entered the edge; requests older than the staleness window are rejected.
type ReqContext struct {
	TicketID  string       `json:"ticketId"`
	ContentID string       `json:"contentId"`
	ClientIP  string       `json:"clientIp"`
	DeviceID  string       `json:"deviceId"`
	UserAgent string       `json:"userAgent,omitempty"`
	ASN       int          `json:"asn,omitempty"`
	Geo       *GeoLocation `json:"geo,omitempty"`
	ViewerAge int          `json:"viewerAge,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// Time returns the request timestamp as a time.Time.
func (r ReqContext) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// SegmentRequest asks whether one media segment may be served.
type SegmentRequest struct {
	ReqContext
	SegmentRange string `json:"segmentRange"`
}

// ManifestRequest asks for a sanitized manifest.
type ManifestRequest struct {
	ReqContext
	ManifestType ManifestType `json:"manifestType"`
}

// KeyRequest asks for a short-lived decryption-key token.
type KeyRequest struct {
	ReqContext
	SegmentRange string `json:"segmentRange"`
	KeyID        string `json:"keyId"`
}

// Decision is the outcome of an authorization request. Invariant: a denial
// always carries Code and Reason; an allow never does.
type Decision struct {
	Allowed        bool          `json:"allowed"`
	Code           Code          `json:"errorCode,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	CacheTTL       time.Duration `json:"cacheTTL"`
	CorrelationID  string        `json:"correlationId"`
	ProcessingTime time.Duration `json:"processingTime"`
}

// Allow builds an allow decision with the given cache TTL.
func Allow(ttl time.Duration) Decision {
	return Decision{Allowed: true, CacheTTL: ttl}
}

// Deny builds a deny decision. Reason defaults to a human-readable form of
// the code when empty, keeping the denial invariant intact.
func Deny(code Code, reason string, ttl time.Duration) Decision {
	if reason == "" {
		reason = string(code)
	}
	return Decision{Allowed: false, Code: code, Reason: reason, CacheTTL: ttl}
}

// WithCorrelation returns a copy of the decision carrying the given
// correlation ID.
func (d Decision) WithCorrelation(id string) Decision {
	d.CorrelationID = id
	return d
}

// Fingerprint derives the cache key for a request. It covers everything a
// cached decision depends on: request kind, ticket, content, device and
// client address.
func Fingerprint(kind Kind, ticketID, contentID, deviceID, clientIP string) string {
	h := sha256.New()
	for _, part := range []string{string(kind), ticketID, contentID, deviceID, clientIP} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
