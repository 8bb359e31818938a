// SPDX-License-Identifier: MIT

package ticket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Store caches validated tickets by ID until their expiry. Concurrent
// misses for the same ID collapse into a single upstream lookup, so a
// thundering herd of edge requests costs one resolver call.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*Ticket
	resolver Resolver
	group    singleflight.Group
	now      func() time.Time
}

// NewStore creates a ticket store backed by the given resolver. now may be
// nil, in which case time.Now is used.
func NewStore(resolver Resolver, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		entries:  make(map[string]*Ticket),
		resolver: resolver,
		now:      now,
	}
}

// Validate returns the ticket for the given ID, from cache when possible.
// A cache hit past the ticket's expiry is evicted and treated as a miss.
// Expired tickets are still returned; denying them is the policy layer's
// job. The returned ticket is shared and must be treated as read-only.
func (s *Store) Validate(ctx context.Context, ticketID string) (*Ticket, error) {
	if ticketID == "" {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	t, ok := s.entries[ticketID]
	s.mu.RUnlock()
	if ok {
		if !t.Expired(s.now()) {
			return t, nil
		}
		s.mu.Lock()
		// Recheck under the write lock; another caller may have replaced
		// the entry with a fresh ticket already.
		if cur, ok := s.entries[ticketID]; ok && cur.Expired(s.now()) {
			delete(s.entries, ticketID)
		}
		s.mu.Unlock()
	}

	v, err, _ := s.group.Do(ticketID, func() (any, error) {
		return s.fetch(ctx, ticketID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Ticket), nil
}

func (s *Store) fetch(ctx context.Context, ticketID string) (*Ticket, error) {
	t, err := s.resolver.Resolve(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := t.Check(); err != nil {
		return nil, fmt.Errorf("resolver returned invalid ticket: %w", err)
	}

	// An already expired ticket is still returned so the policy layer can
	// deny it with the precise expiry code. It is not cached; the decision
	// cache holds the resulting denial.
	if t.Expired(s.now()) {
		return t, nil
	}

	s.mu.Lock()
	s.entries[ticketID] = t
	s.mu.Unlock()
	return t, nil
}

// Sweep removes expired tickets and returns the number removed. Called by
// the background janitor.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.entries {
		if t.Expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached tickets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Invalidate drops a single cached ticket.
func (s *Store) Invalidate(ticketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, ticketID)
}
