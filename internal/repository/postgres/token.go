package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/authority/internal/domain"
	"github.com/utafrali/authority/pkg/database"
	apperrors "github.com/utafrali/authority/pkg/errors"
)

// EphemeralTokenRepository implements repository.EphemeralTokenRepository
// using PostgreSQL.
type EphemeralTokenRepository struct {
	db database.DBTX
}

// NewEphemeralTokenRepository creates a new PostgreSQL-backed ephemeral token repository.
func NewEphemeralTokenRepository(db database.DBTX) *EphemeralTokenRepository {
	return &EphemeralTokenRepository{db: db}
}

// Create inserts a token.
func (r *EphemeralTokenRepository) Create(ctx context.Context, t *domain.EphemeralToken) (err error) {
	query := `
		INSERT INTO ephemeral_tokens (id, principal_id, kind, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	ctx, end := database.TraceQuery(ctx, "CreateEphemeralToken", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query, t.ID, t.PrincipalID, string(t.Kind), t.TokenHash, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		if _, ok := database.UniqueViolation(err); ok {
			return fmt.Errorf("insert ephemeral token: %w", apperrors.ErrAlreadyExists)
		}
		return fmt.Errorf("insert ephemeral token: %w", err)
	}
	return nil
}

// GetByHash retrieves a token by kind and digest.
func (r *EphemeralTokenRepository) GetByHash(ctx context.Context, kind domain.EphemeralKind, tokenHash string) (_ *domain.EphemeralToken, err error) {
	query := `
		SELECT id, principal_id, kind, token_hash, expires_at, created_at
		FROM ephemeral_tokens
		WHERE kind = $1 AND token_hash = $2`

	ctx, end := database.TraceQuery(ctx, "GetEphemeralToken", query)
	defer func() { end(ignoreNotFound(err)) }()

	var (
		t       domain.EphemeralToken
		kindStr string
	)
	err = r.db.QueryRow(ctx, query, string(kind), tokenHash).Scan(
		&t.ID, &t.PrincipalID, &kindStr, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan ephemeral token: %w", err)
	}
	t.Kind = domain.EphemeralKind(kindStr)
	return &t, nil
}

// Delete removes a token by id. The row lock taken by DELETE lets only one
// concurrent caller see a removed row.
func (r *EphemeralTokenRepository) Delete(ctx context.Context, t *domain.EphemeralToken) (_ bool, err error) {
	query := `DELETE FROM ephemeral_tokens WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteEphemeralToken", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, t.ID)
	if err != nil {
		return false, fmt.Errorf("delete ephemeral token: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// DeleteByPrincipal removes every token of kind for the principal.
func (r *EphemeralTokenRepository) DeleteByPrincipal(ctx context.Context, principalID string, kind domain.EphemeralKind) (_ int64, err error) {
	query := `DELETE FROM ephemeral_tokens WHERE principal_id = $1 AND kind = $2`

	ctx, end := database.TraceQuery(ctx, "DeleteEphemeralTokensByPrincipal", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, principalID, string(kind))
	if err != nil {
		return 0, fmt.Errorf("delete ephemeral tokens for principal: %w", err)
	}
	return ct.RowsAffected(), nil
}

// DeleteExpired removes tokens with expires_at <= now.
func (r *EphemeralTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (_ int64, err error) {
	query := `DELETE FROM ephemeral_tokens WHERE expires_at <= $1`

	ctx, end := database.TraceQuery(ctx, "DeleteExpiredEphemeralTokens", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired ephemeral tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

// SessionTokenRepository implements repository.SessionTokenRepository using PostgreSQL.
type SessionTokenRepository struct {
	db database.DBTX
}

// NewSessionTokenRepository creates a new PostgreSQL-backed session repository.
func NewSessionTokenRepository(db database.DBTX) *SessionTokenRepository {
	return &SessionTokenRepository{db: db}
}

// Create inserts a session record.
func (r *SessionTokenRepository) Create(ctx context.Context, s *domain.SessionToken) (err error) {
	query := `
		INSERT INTO session_tokens (id, principal_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	ctx, end := database.TraceQuery(ctx, "CreateSessionToken", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query, s.ID, s.PrincipalID, s.TokenHash, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		if _, ok := database.UniqueViolation(err); ok {
			return fmt.Errorf("insert session token: %w", apperrors.ErrAlreadyExists)
		}
		return fmt.Errorf("insert session token: %w", err)
	}
	return nil
}

// GetByHash retrieves a session by refresh-token digest.
func (r *SessionTokenRepository) GetByHash(ctx context.Context, tokenHash string) (_ *domain.SessionToken, err error) {
	query := `
		SELECT id, principal_id, token_hash, expires_at, created_at
		FROM session_tokens
		WHERE token_hash = $1`

	ctx, end := database.TraceQuery(ctx, "GetSessionToken", query)
	defer func() { end(ignoreNotFound(err)) }()

	var s domain.SessionToken
	err = r.db.QueryRow(ctx, query, tokenHash).Scan(&s.ID, &s.PrincipalID, &s.TokenHash, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan session token: %w", err)
	}
	return &s, nil
}

// DeleteByHash removes a session.
func (r *SessionTokenRepository) DeleteByHash(ctx context.Context, tokenHash string) (err error) {
	query := `DELETE FROM session_tokens WHERE token_hash = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteSessionToken", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, tokenHash); err != nil {
		return fmt.Errorf("delete session token: %w", err)
	}
	return nil
}

// DeleteByPrincipal removes every session of the principal.
func (r *SessionTokenRepository) DeleteByPrincipal(ctx context.Context, principalID string) (_ int64, err error) {
	query := `DELETE FROM session_tokens WHERE principal_id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteSessionTokensByPrincipal", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, principalID)
	if err != nil {
		return 0, fmt.Errorf("delete session tokens for principal: %w", err)
	}
	return ct.RowsAffected(), nil
}

// DeleteExpired removes sessions with expires_at <= now.
func (r *SessionTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (_ int64, err error) {
	query := `DELETE FROM session_tokens WHERE expires_at <= $1`

	ctx, end := database.TraceQuery(ctx, "DeleteExpiredSessionTokens", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired session tokens: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ignoreNotFound keeps a miss from marking the span as failed.
func ignoreNotFound(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}
