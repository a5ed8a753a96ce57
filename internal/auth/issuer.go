package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access tokens from refresh tokens. Each kind is signed
// with its own key, so a token of one kind never verifies as the other.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// ErrInvalidToken is returned for every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the signed claims of an access or refresh token.
type Claims struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Identity is the verified content of a token.
type Identity struct {
	SubjectID   string
	SubjectName string
	Kind        Kind
	TokenID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Issuer mints and verifies HS256 tokens. Keys are read-only after construction.
type Issuer struct {
	keys   map[Kind][]byte
	issuer string
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an issuer with distinct access and refresh keys.
func NewIssuer(accessSecret, refreshSecret, issuer string, opts ...Option) (*Issuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("auth: signing secrets must not be empty")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	i := &Issuer{
		keys: map[Kind][]byte{
			KindAccess:  []byte(accessSecret),
			KindRefresh: []byte(refreshSecret),
		},
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue creates a signed token for the subject that expires after ttl.
func (i *Issuer) Issue(subjectID, subjectName string, kind Kind, ttl time.Duration) (string, time.Time, error) {
	key, ok := i.keys[kind]
	if !ok {
		return "", time.Time{}, fmt.Errorf("auth: unknown token kind %q", kind)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("auth: ttl must be positive, got %s", ttl)
	}

	now := i.now().UTC()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		Name: subjectName,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subjectID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	// The exp claim has second precision; report what a verifier will see.
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, expiry, issuer and kind. Any failure yields
// ErrInvalidToken.
func (i *Issuer) Verify(token string, expected Kind) (*Identity, error) {
	key, ok := i.keys[expected]
	if !ok || token == "" {
		return nil, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Kind != expected || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	id := &Identity{
		SubjectID:   claims.Subject,
		SubjectName: claims.Name,
		Kind:        claims.Kind,
		TokenID:     claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return id, nil
}
