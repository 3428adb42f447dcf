// Package oauthstate holds pending OAuth authorization state tokens.
//
// A module starting an authorization flow registers a random state
// token mapped to the requesting user; the provider's callback carries
// the token back and Consume resolves it to the user exactly once.
// Entries expire so abandoned flows do not accumulate.
package oauthstate

import (
	"sync"
	"time"
)

// DefaultTTL is how long a pending authorization stays redeemable.
const DefaultTTL = 10 * time.Minute

type pending struct {
	user    string
	module  string
	expires time.Time
}

// Store is the process-wide pending-authorization table. Safe for
// concurrent use.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]pending
}

// New creates a store with the given TTL (DefaultTTL if zero).
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]pending),
	}
}

// Put registers a pending authorization for (user, module) under the
// state token, replacing any previous entry for that token.
func (s *Store) Put(state, user, module string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[state] = pending{user: user, module: module, expires: s.now().Add(s.ttl)}
}

// Consume redeems a state token, returning the user and module that
// registered it. A token redeems at most once; expired or unknown
// tokens report ok=false.
func (s *Store) Consume(state string) (user, module string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, found := s.entries[state]
	if !found {
		return "", "", false
	}
	delete(s.entries, state)
	if s.now().After(p.expires) {
		return "", "", false
	}
	return p.user, p.module, true
}

// sweepLocked drops expired entries. Called opportunistically on Put so
// the table stays bounded without a background goroutine.
func (s *Store) sweepLocked() {
	now := s.now()
	for state, p := range s.entries {
		if now.After(p.expires) {
			delete(s.entries, state)
		}
	}
}
