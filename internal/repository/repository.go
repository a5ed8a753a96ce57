package repository

import (
	"context"
	"time"

	"github.com/utafrali/authority/internal/domain"
)

// PrincipalRepository persists principals. Username and case-insensitive
// email are unique: Create fails with domain.ErrUsernameTaken or
// domain.ErrEmailTaken when either is already present. Lookups return
// apperrors.ErrNotFound when nothing matches.
type PrincipalRepository interface {
	// Create inserts a principal if neither its username nor its email exists.
	Create(ctx context.Context, p *domain.Principal) error

	// GetByID retrieves a principal by identifier.
	GetByID(ctx context.Context, id string) (*domain.Principal, error)

	// GetByUsername retrieves a principal by exact username.
	GetByUsername(ctx context.Context, username string) (*domain.Principal, error)

	// GetByEmail retrieves a principal by email, ignoring case.
	GetByEmail(ctx context.Context, email string) (*domain.Principal, error)

	// GetByUsernameOrEmail matches identifier against username or email in a
	// single lookup.
	GetByUsernameOrEmail(ctx context.Context, identifier string) (*domain.Principal, error)

	// MarkVerified sets verified=true. Marking an already verified principal
	// succeeds.
	MarkVerified(ctx context.Context, id string) error

	// UpdatePassword replaces the stored password verifier.
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

// EphemeralTokenRepository persists single-use codes. A token found past its
// expiry is treated as absent by callers; the store may also drop it.
type EphemeralTokenRepository interface {
	// Create stores a token. A token whose kind and digest are already
	// stored fails with apperrors.ErrAlreadyExists.
	Create(ctx context.Context, t *domain.EphemeralToken) error

	// GetByHash retrieves a token by kind and digest.
	GetByHash(ctx context.Context, kind domain.EphemeralKind, tokenHash string) (*domain.EphemeralToken, error)

	// Delete removes a token and reports whether this call removed it. Of
	// concurrent deletes of one token exactly one reports true, which makes
	// Delete the claim step of single-use consumption.
	Delete(ctx context.Context, t *domain.EphemeralToken) (bool, error)

	// DeleteByPrincipal removes every token of kind for the principal.
	DeleteByPrincipal(ctx context.Context, principalID string, kind domain.EphemeralKind) (int64, error)

	// DeleteExpired removes tokens with expires_at <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionTokenRepository persists refresh-token records.
type SessionTokenRepository interface {
	// Create stores a session.
	Create(ctx context.Context, s *domain.SessionToken) error

	// GetByHash retrieves a session by refresh-token digest.
	GetByHash(ctx context.Context, tokenHash string) (*domain.SessionToken, error)

	// DeleteByHash removes a session. Deleting a missing session succeeds.
	DeleteByHash(ctx context.Context, tokenHash string) error

	// DeleteByPrincipal removes every session of the principal.
	DeleteByPrincipal(ctx context.Context, principalID string) (int64, error)

	// DeleteExpired removes sessions with expires_at <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
