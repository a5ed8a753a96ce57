// Package memory provides in-process implementations of the repository
// contracts, used by STORE_DRIVER=memory and in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/utafrali/authority/internal/domain"
	apperrors "github.com/utafrali/authority/pkg/errors"
)

// PrincipalStore implements repository.PrincipalRepository using maps.
type PrincipalStore struct {
	mu         sync.RWMutex
	byID       map[string]*domain.Principal
	byUsername map[string]string
	byEmail    map[string]string
}

// NewPrincipalStore creates an empty principal store.
func NewPrincipalStore() *PrincipalStore {
	return &PrincipalStore{
		byID:       make(map[string]*domain.Principal),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

// Create inserts p if its username and email are both free.
func (s *PrincipalStore) Create(_ context.Context, p *domain.Principal) error {
	email := domain.NormalizeEmail(p.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[p.Username]; ok {
		return domain.ErrUsernameTaken
	}
	if _, ok := s.byEmail[email]; ok {
		return domain.ErrEmailTaken
	}

	stored := *p
	stored.Email = email
	s.byID[p.ID] = &stored
	s.byUsername[p.Username] = p.ID
	s.byEmail[email] = p.ID
	return nil
}

// GetByID retrieves a principal by id.
func (s *PrincipalStore) GetByID(_ context.Context, id string) (*domain.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(id)
}

// GetByUsername retrieves a principal by username.
func (s *PrincipalStore) GetByUsername(_ context.Context, username string) (*domain.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byUsername[username])
}

// GetByEmail retrieves a principal by email, ignoring case.
func (s *PrincipalStore) GetByEmail(_ context.Context, email string) (*domain.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byEmail[domain.NormalizeEmail(email)])
}

// GetByUsernameOrEmail matches the identifier against username first, then email.
func (s *PrincipalStore) GetByUsernameOrEmail(_ context.Context, identifier string) (*domain.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byUsername[identifier]; ok {
		return s.lookup(id)
	}
	return s.lookup(s.byEmail[domain.NormalizeEmail(identifier)])
}

// MarkVerified sets the verified flag.
func (s *PrincipalStore) MarkVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	p.Verified = true
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdatePassword replaces the password verifier.
func (s *PrincipalStore) UpdatePassword(_ context.Context, id, passwordHash string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	p.PasswordHash = passwordHash
	p.UpdatedAt = updatedAt
	return nil
}

func (s *PrincipalStore) lookup(id string) (*domain.Principal, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}
