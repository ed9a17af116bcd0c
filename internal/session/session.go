// Package session holds the single in-process credential pair that gates
// every authenticated tool. The store has two states, unauthenticated and
// authenticated, and all transitions go through one mutex.
package session

import (
	"context"
	"sync"

	"github.com/epalmerini/keyhole/internal/jolokia"
)

// ProbeFunc validates a candidate credential pair against the broker,
// typically by reading the broker version. A nil return means the
// credentials work.
type ProbeFunc func(ctx context.Context, creds jolokia.Credentials) *jolokia.Error

// Store is the process-wide session. At most one credential pair exists
// at any time; its validity is only ever established transitively by the
// next successful call that uses it.
type Store struct {
	probe ProbeFunc

	mu    sync.Mutex
	creds *jolokia.Credentials
}

// NewStore creates an unauthenticated store using probe for logins.
func NewStore(probe ProbeFunc) *Store {
	return &Store{probe: probe}
}

// Login probes the broker with the supplied pair. On success the pair is
// stored, replacing any prior session entirely. On failure the prior
// session, if any, is left untouched and the probe's error is returned.
// The lock is held across the probe so concurrent logins cannot interleave
// their probe and store steps.
func (s *Store) Login(ctx context.Context, username, password string) *jolokia.Error {
	creds := jolokia.Credentials{Username: username, Password: password}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.probe(ctx, creds); err != nil {
		return err
	}
	s.creds = &creds
	return nil
}

// Logout clears the session and returns the username that was cleared.
// When already unauthenticated it reports ok=false instead of erroring.
func (s *Store) Logout() (username string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.creds == nil {
		return "", false
	}
	username = s.creds.Username
	s.creds = nil
	return username, true
}

// Current returns a copy of the stored pair. Callers snapshot it once at
// the start of an authenticated operation; a concurrent logout never
// mutates a pair already handed out.
func (s *Store) Current() (jolokia.Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.creds == nil {
		return jolokia.Credentials{}, false
	}
	return *s.creds, true
}
