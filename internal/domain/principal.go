package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PasswordHasher produces one-way password verifiers.
type PasswordHasher interface {
	Hash(plain string) (string, error)
}

// Principal is a registered account.
type Principal struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PublicPrincipal is the projection of a Principal that may leave the service.
type PublicPrincipal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// NormalizeEmail lower-cases and trims an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewPrincipal builds an unverified principal with a hashed password. It is
// the only way a Principal with a verifier is created.
func NewPrincipal(username, email, password string, hasher PasswordHasher, now time.Time) (*Principal, error) {
	p := &Principal{
		ID:        uuid.NewString(),
		Username:  strings.TrimSpace(username),
		Email:     NormalizeEmail(email),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if err := p.SetPassword(password, hasher, now); err != nil {
		return nil, err
	}
	return p, nil
}

// SetPassword replaces the stored verifier. The plaintext is never retained.
func (p *Principal) SetPassword(password string, hasher PasswordHasher, now time.Time) error {
	hashed, err := hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("set password for principal %s: %w", p.ID, err)
	}
	p.PasswordHash = hashed
	p.UpdatedAt = now.UTC()
	return nil
}

// Public returns the public-safe projection.
func (p *Principal) Public() PublicPrincipal {
	return PublicPrincipal{
		ID:       p.ID,
		Username: p.Username,
		Email:    p.Email,
		Verified: p.Verified,
	}
}
