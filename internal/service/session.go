package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/authority/internal/auth"
	"github.com/utafrali/authority/internal/domain"
	"github.com/utafrali/authority/internal/password"
	pkgvalidator "github.com/utafrali/authority/pkg/validator"
)

// LoginInput holds login credentials. Username may be a username or an email.
type LoginInput struct {
	Username string `json:"username" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// LoginResult carries the issued token pair and the public principal.
type LoginResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Principal        domain.PublicPrincipal
}

// AccessResult is a freshly minted access token.
type AccessResult struct {
	AccessToken string
	ExpiresAt   time.Time
}

var (
	errInvalidCredentials = domain.NewError(domain.KindInvalidCredentials, "invalid username or password", nil)
	errEmailNotVerified   = domain.NewError(domain.KindEmailNotVerified, "email address is not verified", nil)
	errInvalidToken       = domain.NewError(domain.KindInvalidToken, "invalid or expired token", nil)
	errUnauthenticated    = domain.NewError(domain.KindUnauthenticated, "authentication required", nil)
)

// Login authenticates by username or email and opens a new session.
func (s *LifecycleService) Login(ctx context.Context, input LoginInput) (_ *LoginResult, err error) {
	ctx, finish := s.begin(ctx, "login")
	defer finish(&err)

	input.Username = strings.TrimSpace(input.Username)
	if err := pkgvalidator.Validate(input); err != nil {
		return nil, validationError(err)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	principal, err := s.principals.GetByUsernameOrEmail(storeCtx, input.Username)
	cancel()
	if err != nil {
		if isNotFound(err) {
			s.dummyCompare(input.Password)
			return nil, errInvalidCredentials
		}
		return nil, s.internal(ctx, "get principal for login", err)
	}

	if err := s.hasher.Compare(principal.PasswordHash, input.Password); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			s.log(ctx).InfoContext(ctx, "login rejected", slog.String("principal_id", principal.ID))
			return nil, errInvalidCredentials
		}
		return nil, s.internal(ctx, "compare password", err, slog.String("principal_id", principal.ID))
	}

	// Only revealed once the password has been proven.
	if !principal.Verified {
		return nil, errEmailNotVerified
	}

	access, accessExp, err := s.issuer.Issue(principal.ID, principal.Username, auth.KindAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, s.internal(ctx, "issue access token", err)
	}
	refresh, refreshExp, err := s.issuer.Issue(principal.ID, principal.Username, auth.KindRefresh, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, s.internal(ctx, "issue refresh token", err)
	}

	session := domain.NewSessionToken(principal.ID, refresh, refreshExp, s.now())
	storeCtx, cancel = s.storeCtx(ctx)
	err = s.sessions.Create(storeCtx, session)
	cancel()
	if err != nil {
		return nil, s.internal(ctx, "store session", err, slog.String("principal_id", principal.ID))
	}

	s.log(ctx).InfoContext(ctx, "principal logged in", slog.String("principal_id", principal.ID))

	return &LoginResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		Principal:        principal.Public(),
	}, nil
}

// RefreshAccessToken mints a new access token when the refresh token is both
// cryptographically valid and backed by an unexpired session record. The
// refresh token itself is not rotated.
func (s *LifecycleService) RefreshAccessToken(ctx context.Context, refreshToken string) (_ *AccessResult, err error) {
	ctx, finish := s.begin(ctx, "refresh")
	defer finish(&err)

	if refreshToken == "" {
		return nil, errUnauthenticated
	}

	identity, err := s.issuer.Verify(refreshToken, auth.KindRefresh)
	if err != nil {
		return nil, errInvalidToken
	}

	storeCtx, cancel := s.storeCtx(ctx)
	session, err := s.sessions.GetByHash(storeCtx, domain.HashToken(refreshToken))
	cancel()
	if err != nil {
		if isNotFound(err) {
			return nil, errInvalidToken
		}
		return nil, s.internal(ctx, "get session", err, slog.String("principal_id", identity.SubjectID))
	}
	if session.Expired(s.now()) || session.PrincipalID != identity.SubjectID {
		return nil, errInvalidToken
	}

	access, exp, err := s.issuer.Issue(identity.SubjectID, identity.SubjectName, auth.KindAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, s.internal(ctx, "issue access token", err)
	}

	return &AccessResult{AccessToken: access, ExpiresAt: exp}, nil
}

// Logout ends the session for refreshToken. Unknown or empty tokens succeed.
func (s *LifecycleService) Logout(ctx context.Context, refreshToken string) (err error) {
	ctx, finish := s.begin(ctx, "logout")
	defer finish(&err)

	if refreshToken == "" {
		return nil
	}

	storeCtx, cancel := s.storeCtx(ctx)
	err = s.sessions.DeleteByHash(storeCtx, domain.HashToken(refreshToken))
	cancel()
	if err != nil {
		return s.internal(ctx, "delete session", err)
	}
	return nil
}

// LogoutAll ends every session of the principal.
func (s *LifecycleService) LogoutAll(ctx context.Context, principalID string) (err error) {
	ctx, finish := s.begin(ctx, "logout_all")
	defer finish(&err)

	if principalID == "" {
		return errUnauthenticated
	}

	revoked, err := s.revokeSessions(ctx, principalID, "logout_all")
	if err != nil {
		return err
	}
	s.log(ctx).InfoContext(ctx, "all sessions revoked",
		slog.String("principal_id", principalID),
		slog.Int64("revoked", revoked),
	)
	return nil
}

func (s *LifecycleService) revokeSessions(ctx context.Context, principalID, reason string) (int64, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	revoked, err := s.sessions.DeleteByPrincipal(storeCtx, principalID)
	cancel()
	if err != nil {
		return 0, s.internal(ctx, "revoke sessions", err, slog.String("principal_id", principalID))
	}

	s.publish(ctx, "sessions.revoked", principalID, func(ctx context.Context) error {
		return s.events.PublishSessionsRevoked(ctx, principalID, reason, revoked)
	})
	return revoked, nil
}

// GetProfile returns the public view of a principal.
func (s *LifecycleService) GetProfile(ctx context.Context, principalID string) (_ *domain.PublicPrincipal, err error) {
	ctx, finish := s.begin(ctx, "get_profile")
	defer finish(&err)

	storeCtx, cancel := s.storeCtx(ctx)
	principal, err := s.principals.GetByID(storeCtx, principalID)
	cancel()
	if err != nil {
		if isNotFound(err) {
			return nil, domain.NewError(domain.KindNotFound, "principal not found", err)
		}
		return nil, s.internal(ctx, "get principal", err, slog.String("principal_id", principalID))
	}

	public := principal.Public()
	return &public, nil
}
