package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// EphemeralKind is the purpose of a single-use token.
type EphemeralKind string

const (
	KindEmailVerify   EphemeralKind = "email_verify"
	KindPasswordReset EphemeralKind = "password_reset"
)

// Valid reports whether k is a known kind.
func (k EphemeralKind) Valid() bool {
	return k == KindEmailVerify || k == KindPasswordReset
}

const (
	// VerificationCodeLength is the length of an email verification code.
	VerificationCodeLength = 6
	// ResetTokenBytes is the entropy of a password-reset token.
	ResetTokenBytes = 32

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// EphemeralToken is a single-use, self-expiring code bound to a principal.
// Only the digest of the presented value is stored.
type EphemeralToken struct {
	ID          string        `json:"id"`
	PrincipalID string        `json:"principal_id"`
	Kind        EphemeralKind `json:"kind"`
	TokenHash   string        `json:"token_hash"`
	ExpiresAt   time.Time     `json:"expires_at"`
	CreatedAt   time.Time     `json:"created_at"`
}

// NewEphemeralToken builds a token record for value expiring ttl after now.
func NewEphemeralToken(principalID string, kind EphemeralKind, value string, now time.Time, ttl time.Duration) *EphemeralToken {
	return &EphemeralToken{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Kind:        kind,
		TokenHash:   HashToken(value),
		ExpiresAt:   now.UTC().Add(ttl),
		CreatedAt:   now.UTC(),
	}
}

// Expired reports whether the token is no longer usable at now.
func (t *EphemeralToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// SessionToken is the stored record of an issued refresh token.
type SessionToken struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	TokenHash   string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewSessionToken builds a session record for a refresh token.
func NewSessionToken(principalID, refreshToken string, expiresAt, now time.Time) *SessionToken {
	return &SessionToken{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		TokenHash:   HashToken(refreshToken),
		ExpiresAt:   expiresAt.UTC(),
		CreatedAt:   now.UTC(),
	}
}

// Expired reports whether the session is no longer usable at now.
func (s *SessionToken) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// HashToken returns the SHA-256 hex digest of a token value.
func HashToken(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}

// NewVerificationCode returns a uniformly random code of uppercase letters
// and digits.
func NewVerificationCode() (string, error) {
	size := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, VerificationCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// NewResetToken returns a hex-encoded 256-bit random token.
func NewResetToken() (string, error) {
	b := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
