package memory

import (
	"context"
	"sync"
	"time"

	"github.com/utafrali/authority/internal/domain"
	apperrors "github.com/utafrali/authority/pkg/errors"
)

type ephemeralKey struct {
	kind domain.EphemeralKind
	hash string
}

// EphemeralStore implements repository.EphemeralTokenRepository using a map.
type EphemeralStore struct {
	mu     sync.RWMutex
	tokens map[ephemeralKey]*domain.EphemeralToken
}

// NewEphemeralStore creates an empty ephemeral token store.
func NewEphemeralStore() *EphemeralStore {
	return &EphemeralStore{tokens: make(map[ephemeralKey]*domain.EphemeralToken)}
}

// Create stores t unless a token with the same kind and digest exists.
func (s *EphemeralStore) Create(_ context.Context, t *domain.EphemeralToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ephemeralKey{t.Kind, t.TokenHash}
	if _, ok := s.tokens[key]; ok {
		return apperrors.ErrAlreadyExists
	}
	cp := *t
	s.tokens[key] = &cp
	return nil
}

// GetByHash retrieves a token by kind and digest.
func (s *EphemeralStore) GetByHash(_ context.Context, kind domain.EphemeralKind, tokenHash string) (*domain.EphemeralToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[ephemeralKey{kind, tokenHash}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// Delete removes t if it is still present.
func (s *EphemeralStore) Delete(_ context.Context, t *domain.EphemeralToken) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ephemeralKey{t.Kind, t.TokenHash}
	cur, ok := s.tokens[key]
	if !ok || cur.ID != t.ID {
		return false, nil
	}
	delete(s.tokens, key)
	return true, nil
}

// DeleteByPrincipal removes every token of kind for the principal.
func (s *EphemeralStore) DeleteByPrincipal(_ context.Context, principalID string, kind domain.EphemeralKind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, t := range s.tokens {
		if t.PrincipalID == principalID && t.Kind == kind {
			delete(s.tokens, key)
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes tokens that expired at or before now.
func (s *EphemeralStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, key)
			n++
		}
	}
	return n, nil
}

// SessionStore implements repository.SessionTokenRepository using a map.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.SessionToken
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*domain.SessionToken)}
}

// Create stores a session keyed by its digest.
func (s *SessionStore) Create(_ context.Context, st *domain.SessionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[st.TokenHash]; ok {
		return apperrors.ErrAlreadyExists
	}
	cp := *st
	s.sessions[st.TokenHash] = &cp
	return nil
}

// GetByHash retrieves a session by digest.
func (s *SessionStore) GetByHash(_ context.Context, tokenHash string) (*domain.SessionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[tokenHash]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

// DeleteByHash removes a session if present.
func (s *SessionStore) DeleteByHash(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

// DeleteByPrincipal removes every session of the principal.
func (s *SessionStore) DeleteByPrincipal(_ context.Context, principalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, st := range s.sessions {
		if st.PrincipalID == principalID {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes sessions that expired at or before now.
func (s *SessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, st := range s.sessions {
		if st.Expired(now) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored sessions for the principal.
func (s *SessionStore) Count(principalID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, st := range s.sessions {
		if st.PrincipalID == principalID {
			n++
		}
	}
	return n
}
