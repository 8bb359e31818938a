// SPDX-License-Identifier: MIT

// Package ticket defines the playback ticket model and a TTL-cached store
// in front of the external ticket issuer.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RestrictionKind tags the variant of an AccessRestriction.
type RestrictionKind string

const (
	RestrictionGeo        RestrictionKind = "geo"
	RestrictionAge        RestrictionKind = "age"
	RestrictionDevice     RestrictionKind = "device"
	RestrictionConcurrent RestrictionKind = "concurrent"
	RestrictionTime       RestrictionKind = "time"
)

// Restriction is a single access restriction carried by a ticket. Only the
// fields relevant to its Kind are set. Restrictions are evaluated
// independently; any violated restriction denies access.
type Restriction struct {
	Kind RestrictionKind `json:"kind"`

	// Geo: ISO country codes allowed to play.
	Countries []string `json:"countries,omitempty"`

	// Device: device IDs or device classes allowed to play.
	Devices []string `json:"devices,omitempty"`

	// Age: minimum attested viewer age.
	MinAge int `json:"minAge,omitempty"`

	// Concurrent: maximum simultaneous streams. Enforcement lives in the
	// concurrency service; the evaluator treats this as advisory.
	MaxStreams int `json:"maxStreams,omitempty"`

	// Time: playback window boundaries. Zero values are open-ended.
	NotBefore time.Time `json:"notBefore,omitempty"`
	NotAfter  time.Time `json:"notAfter,omitempty"`

	// Message is an optional operator-readable explanation.
	Message string `json:"message,omitempty"`
}

// Ticket is a signed, time-boxed grant of entitlement to view one piece of
// content, bound to a user and device. Tickets are immutable once issued;
// the store never mutates a cached ticket in place.
type Ticket struct {
	ID               string        `json:"ticketId"`
	ContentID        string        `json:"contentId"`
	UserID           string        `json:"userId"`
	DeviceID         string        `json:"deviceId"`
	Entitlements     []string      `json:"entitlements"`
	Restrictions     []Restriction `json:"restrictions,omitempty"`
	WatermarkProfile string        `json:"watermarkProfile,omitempty"`
	IssuedAt         time.Time     `json:"issuedAt"`
	ExpiresAt        time.Time     `json:"expiresAt"`
	Signature        string        `json:"signature"`
}

// Expired reports whether the ticket is past its expiry at the given time.
func (t *Ticket) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Check validates the structural invariants of a resolved ticket.
func (t *Ticket) Check() error {
	if t.ID == "" {
		return errors.New("ticket has no id")
	}
	if t.ContentID == "" {
		return fmt.Errorf("ticket %s has no content id", t.ID)
	}
	if !t.ExpiresAt.After(t.IssuedAt) {
		return fmt.Errorf("ticket %s expires at or before issuance", t.ID)
	}
	return nil
}

// ErrNotFound is returned when the issuer does not know the ticket ID.
var ErrNotFound = errors.New("ticket not found")

// Resolver fetches and validates tickets from the upstream policy service.
// It is the only external collaborator of the store; implementations own
// signature verification and ticket parsing.
type Resolver interface {
	Resolve(ctx context.Context, ticketID string) (*Ticket, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, ticketID string) (*Ticket, error)

func (f ResolverFunc) Resolve(ctx context.Context, ticketID string) (*Ticket, error) {
	return f(ctx, ticketID)
}

// DenyAllResolver rejects every ticket. It is the wiring default when no
// upstream issuer is configured, keeping the service fail-closed.
func DenyAllResolver() Resolver {
	return ResolverFunc(func(context.Context, string) (*Ticket, error) {
		return nil, ErrNotFound
	})
}
