// SPDX-License-Identifier: MIT

// Package keytoken mints and verifies the short-lived tokens that authorize
// retrieval of one decryption key. Tokens are HMAC-SHA256 JWTs over the
// exact binding fields and live in a table that deletes them on a timer at
// TTL: a key token must not be retrievable past its lifetime even if it is
// never queried.
package keytoken

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenExpired covers both signature-level expiry and absence from
	// the token table (active deletion fired).
	ErrTokenExpired = errors.New("key token expired")
	// ErrBindingMismatch means a bound field differs from the presenting
	// request.
	ErrBindingMismatch = errors.New("key token binding mismatch")
	// ErrInvalidToken covers unparseable or wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid key token")
)

// Binding is the set of fields a key token is welded to. Verification
// fails if any of them differs from the presenting request.
type Binding struct {
	TicketID     string
	ContentID    string
	SegmentRange string
	ClientIP     string
	DeviceID     string
	KeyID        string
}

// Token is an issued key token as returned to the edge gateway.
type Token struct {
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expiresAt"`
	KeyID         string    `json:"keyId"`
	CorrelationID string    `json:"correlationId"`
}

type bindingClaims struct {
	jwt.RegisteredClaims
	TicketID     string `json:"tid"`
	ContentID    string `json:"cid"`
	SegmentRange string `json:"rng,omitempty"`
	ClientIP     string `json:"ip"`
	DeviceID     string `json:"dev"`
	KeyID        string `json:"kid"`
}

// Issuer mints tokens and tracks them until their scheduled deletion.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer // token ID -> deletion timer
	closed bool
}

// NewIssuer creates an issuer signing with secret for the given TTL. now
// may be nil, in which case time.Now is used.
func NewIssuer(secret []byte, ttl time.Duration, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		secret: secret,
		ttl:    ttl,
		now:    now,
		timers: make(map[string]*time.Timer),
	}
}

// Issue mints a token over the binding and schedules its deletion at TTL.
func (i *Issuer) Issue(b Binding, correlationID string) (Token, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	id := uuid.NewString()

	claims := bindingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TicketID:     b.TicketID,
		ContentID:    b.ContentID,
		SegmentRange: b.SegmentRange,
		ClientIP:     b.ClientIP,
		DeviceID:     b.DeviceID,
		KeyID:        b.KeyID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign key token: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return Token{}, errors.New("issuer closed")
	}
	i.timers[id] = time.AfterFunc(i.ttl, func() { i.expire(id) })

	return Token{
		Token:         signed,
		ExpiresAt:     expiresAt,
		KeyID:         b.KeyID,
		CorrelationID: correlationID,
	}, nil
}

func (i *Issuer) expire(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.timers, id)
}

// Verify checks the presented token against the presenting request's
// binding. It fails on bad signature, expiry, absence from the token table,
// or any bound field differing from the request.
func (i *Issuer) Verify(tokenString string, b Binding) error {
	var claims bindingClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.TicketID != b.TicketID ||
		claims.ContentID != b.ContentID ||
		claims.SegmentRange != b.SegmentRange ||
		claims.ClientIP != b.ClientIP ||
		claims.DeviceID != b.DeviceID ||
		claims.KeyID != b.KeyID {
		return ErrBindingMismatch
	}

	i.mu.Lock()
	_, live := i.timers[claims.ID]
	i.mu.Unlock()
	if !live {
		// Deleted by the expiry timer (or never issued here).
		return ErrTokenExpired
	}
	return nil
}

// Len returns the number of live tokens.
func (i *Issuer) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.timers)
}

// Close stops all deletion timers and drops the table. Issued tokens stop
// verifying immediately.
func (i *Issuer) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	for id, timer := range i.timers {
		timer.Stop()
		delete(i.timers, id)
	}
}
