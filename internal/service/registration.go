package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/utafrali/authority/internal/domain"
	"github.com/utafrali/authority/internal/notify"
	apperrors "github.com/utafrali/authority/pkg/errors"
	"github.com/utafrali/authority/pkg/logger"
	pkgvalidator "github.com/utafrali/authority/pkg/validator"
)

// SignupInput holds the parameters for creating a principal.
type SignupInput struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,password,max=72"`
}

// SignupResult is returned by a successful signup.
type SignupResult struct {
	PrincipalID string
}

// Signup creates an unverified principal and sends it a verification code.
func (s *LifecycleService) Signup(ctx context.Context, input SignupInput) (_ *SignupResult, err error) {
	ctx, finish := s.begin(ctx, "signup")
	defer finish(&err)

	input.Username = strings.TrimSpace(input.Username)
	input.Email = domain.NormalizeEmail(input.Email)
	if err := pkgvalidator.Validate(input); err != nil {
		return nil, validationError(err)
	}

	// Fast path; the unique indexes still decide concurrent signups.
	if err := s.ensureAvailable(ctx, input.Username, input.Email); err != nil {
		return nil, err
	}

	now := s.now()
	principal, err := domain.NewPrincipal(input.Username, input.Email, input.Password, s.hasher, now)
	if err != nil {
		return nil, s.internal(ctx, "hash password", err)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	err = s.principals.Create(storeCtx, principal)
	cancel()
	switch {
	case errors.Is(err, domain.ErrUsernameTaken):
		return nil, domain.NewError(domain.KindDuplicateUsername, "username already exists", err)
	case errors.Is(err, domain.ErrEmailTaken):
		return nil, domain.NewError(domain.KindDuplicateEmail, "email already registered", err)
	case err != nil:
		return nil, s.internal(ctx, "create principal", err)
	}

	if err := s.issueVerification(ctx, principal); err != nil {
		return nil, err
	}

	s.publish(ctx, "principal.registered", principal.ID, func(ctx context.Context) error {
		return s.events.PublishPrincipalRegistered(ctx, principal)
	})

	s.log(ctx).InfoContext(ctx, "principal registered",
		slog.String("principal_id", principal.ID),
		slog.String("email", logger.MaskEmail(principal.Email)),
	)

	return &SignupResult{PrincipalID: principal.ID}, nil
}

func (s *LifecycleService) ensureAvailable(ctx context.Context, username, email string) error {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	_, err := s.principals.GetByUsername(storeCtx, username)
	switch {
	case err == nil:
		return domain.NewError(domain.KindDuplicateUsername, "username already exists", nil)
	case !isNotFound(err):
		return s.internal(ctx, "check username", err)
	}

	_, err = s.principals.GetByEmail(storeCtx, email)
	switch {
	case err == nil:
		return domain.NewError(domain.KindDuplicateEmail, "email already registered", nil)
	case !isNotFound(err):
		return s.internal(ctx, "check email", err)
	}
	return nil
}

// issueVerification stores a fresh EMAIL_VERIFY code and dispatches it.
func (s *LifecycleService) issueVerification(ctx context.Context, principal *domain.Principal) error {
	code, err := s.storeEphemeral(ctx, principal.ID, domain.KindEmailVerify, s.cfg.VerificationTTL, s.newCode)
	if err != nil {
		return err
	}

	s.dispatch(ctx, notify.VerificationMessage(principal.ID, principal.Email, principal.Username, code, s.cfg.VerificationTTL))
	return nil
}

// VerifyEmail consumes an EMAIL_VERIFY code and marks its principal verified.
func (s *LifecycleService) VerifyEmail(ctx context.Context, code string) (err error) {
	ctx, finish := s.begin(ctx, "verify_email")
	defer finish(&err)

	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != domain.VerificationCodeLength {
		return errInvalidOrExpired
	}

	token, err := s.lookupEphemeral(ctx, domain.KindEmailVerify, code)
	if err != nil {
		return err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	err = s.principals.MarkVerified(storeCtx, token.PrincipalID)
	cancel()
	if err != nil {
		if isNotFound(err) {
			return errInvalidOrExpired
		}
		return s.internal(ctx, "mark principal verified", err, slog.String("principal_id", token.PrincipalID))
	}

	// Not atomic with MarkVerified; a surviving token re-verifies harmlessly.
	s.consume(ctx, token)

	s.publish(ctx, "principal.verified", token.PrincipalID, func(ctx context.Context) error {
		return s.events.PublishPrincipalVerified(ctx, token.PrincipalID)
	})
	s.log(ctx).InfoContext(ctx, "email verified", slog.String("principal_id", token.PrincipalID))
	return nil
}

// ResendVerification supersedes outstanding codes with a new one. Unknown and
// already verified emails fail with the same error.
func (s *LifecycleService) ResendVerification(ctx context.Context, email string) (err error) {
	ctx, finish := s.begin(ctx, "resend_verification")
	defer finish(&err)

	storeCtx, cancel := s.storeCtx(ctx)
	principal, err := s.principals.GetByEmail(storeCtx, domain.NormalizeEmail(email))
	cancel()
	if err != nil {
		if isNotFound(err) {
			return errVerificationUnavailable
		}
		return s.internal(ctx, "get principal by email", err)
	}
	if principal.Verified {
		return errVerificationUnavailable
	}

	storeCtx, cancel = s.storeCtx(ctx)
	_, err = s.ephemeral.DeleteByPrincipal(storeCtx, principal.ID, domain.KindEmailVerify)
	cancel()
	if err != nil {
		return s.internal(ctx, "supersede verification codes", err, slog.String("principal_id", principal.ID))
	}

	if err := s.issueVerification(ctx, principal); err != nil {
		return err
	}
	s.log(ctx).InfoContext(ctx, "verification code reissued", slog.String("principal_id", principal.ID))
	return nil
}

// maxTokenAttempts bounds how often a colliding token value is redrawn.
const maxTokenAttempts = 3

// storeEphemeral draws a value with gen and stores it as a token of kind.
// A value already held by a live token is redrawn.
func (s *LifecycleService) storeEphemeral(ctx context.Context, principalID string, kind domain.EphemeralKind, ttl time.Duration, gen func() (string, error)) (string, error) {
	for attempt := 1; ; attempt++ {
		value, err := gen()
		if err != nil {
			return "", s.internal(ctx, "generate "+string(kind)+" token", err)
		}

		token := domain.NewEphemeralToken(principalID, kind, value, s.now(), ttl)
		storeCtx, cancel := s.storeCtx(ctx)
		err = s.ephemeral.Create(storeCtx, token)
		cancel()

		switch {
		case err == nil:
			return value, nil
		case errors.Is(err, apperrors.ErrAlreadyExists) && attempt < maxTokenAttempts:
			s.log(ctx).WarnContext(ctx, "ephemeral token value collided, redrawing",
				slog.String("principal_id", principalID),
				slog.String("kind", string(kind)),
				slog.Int("attempt", attempt),
			)
		default:
			return "", s.internal(ctx, "store "+string(kind)+" token", err, slog.String("principal_id", principalID))
		}
	}
}

// lookupEphemeral finds an unexpired token of kind for value.
func (s *LifecycleService) lookupEphemeral(ctx context.Context, kind domain.EphemeralKind, value string) (*domain.EphemeralToken, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	token, err := s.ephemeral.GetByHash(storeCtx, kind, domain.HashToken(value))
	cancel()
	if err != nil {
		if isNotFound(err) {
			return nil, errInvalidOrExpired
		}
		return nil, s.internal(ctx, "get "+string(kind)+" token", err)
	}
	if token.Expired(s.now()) {
		s.consume(ctx, token)
		return nil, errInvalidOrExpired
	}
	return token, nil
}

// claim deletes token and reports whether this call removed it. Only the
// caller that sees true may act on the token.
func (s *LifecycleService) claim(ctx context.Context, token *domain.EphemeralToken) (bool, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.ephemeral.Delete(storeCtx, token)
}

// consume deletes a used or expired token where a lost race is harmless.
// Failure is logged; the token stays bounded by its expiry.
func (s *LifecycleService) consume(ctx context.Context, token *domain.EphemeralToken) {
	if _, err := s.claim(ctx, token); err != nil {
		s.log(ctx).WarnContext(ctx, "failed to delete ephemeral token",
			slog.String("principal_id", token.PrincipalID),
			slog.String("kind", string(token.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

var (
	errInvalidOrExpired        = domain.NewError(domain.KindInvalidOrExpiredToken, "invalid or expired token", nil)
	errVerificationUnavailable = domain.NewError(domain.KindVerificationUnavailable, "verification cannot be resent for this email", nil)
)
