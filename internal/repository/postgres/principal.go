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

const (
	constraintUsername = "principals_username_key"
	constraintEmail    = "principals_email_lower_key"

	principalColumns = `id, username, email, password_hash, verified, created_at, updated_at`
)

// PrincipalRepository implements repository.PrincipalRepository using PostgreSQL.
type PrincipalRepository struct {
	db database.DBTX
}

// NewPrincipalRepository creates a new PostgreSQL-backed principal repository.
func NewPrincipalRepository(db database.DBTX) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

// Create inserts a principal. The unique indexes on username and lower(email)
// decide races between concurrent signups.
func (r *PrincipalRepository) Create(ctx context.Context, p *domain.Principal) (err error) {
	query := `
		INSERT INTO principals (` + principalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ctx, end := database.TraceQuery(ctx, "CreatePrincipal", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		p.ID,
		p.Username,
		domain.NormalizeEmail(p.Email),
		p.PasswordHash,
		p.Verified,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := database.UniqueViolation(err); ok {
			switch constraint {
			case constraintUsername:
				return domain.ErrUsernameTaken
			case constraintEmail:
				return domain.ErrEmailTaken
			default:
				return fmt.Errorf("insert principal: %w", apperrors.ErrAlreadyExists)
			}
		}
		return fmt.Errorf("insert principal: %w", err)
	}

	return nil
}

// GetByID retrieves a principal by id.
func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`
	return r.scanPrincipal(ctx, "GetPrincipalByID", query, id)
}

// GetByUsername retrieves a principal by exact username.
func (r *PrincipalRepository) GetByUsername(ctx context.Context, username string) (*domain.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE username = $1`
	return r.scanPrincipal(ctx, "GetPrincipalByUsername", query, username)
}

// GetByEmail retrieves a principal by email, ignoring case.
func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE lower(email) = $1`
	return r.scanPrincipal(ctx, "GetPrincipalByEmail", query, domain.NormalizeEmail(email))
}

// GetByUsernameOrEmail prefers a username match over an email match.
func (r *PrincipalRepository) GetByUsernameOrEmail(ctx context.Context, identifier string) (*domain.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE username = $1 OR lower(email) = $2
		ORDER BY (username = $1) DESC
		LIMIT 1`
	return r.scanPrincipal(ctx, "GetPrincipalByUsernameOrEmail", query, identifier, domain.NormalizeEmail(identifier))
}

// MarkVerified sets verified = true.
func (r *PrincipalRepository) MarkVerified(ctx context.Context, id string) (err error) {
	query := `UPDATE principals SET verified = TRUE, updated_at = NOW() WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "MarkPrincipalVerified", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark principal verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("principal", id)
	}
	return nil
}

// UpdatePassword replaces the password verifier.
func (r *PrincipalRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) (err error) {
	query := `UPDATE principals SET password_hash = $1, updated_at = $2 WHERE id = $3`

	ctx, end := database.TraceQuery(ctx, "UpdatePrincipalPassword", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, passwordHash, updatedAt, id)
	if err != nil {
		return fmt.Errorf("update principal password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("principal", id)
	}
	return nil
}

func (r *PrincipalRepository) scanPrincipal(ctx context.Context, operation, query string, args ...any) (_ *domain.Principal, err error) {
	ctx, end := database.TraceQuery(ctx, operation, query)
	defer func() { end(ignoreNotFound(err)) }()

	var p domain.Principal
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&p.ID,
		&p.Username,
		&p.Email,
		&p.PasswordHash,
		&p.Verified,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan principal: %w", err)
	}
	return &p, nil
}
