package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/utafrali/authority/internal/domain"
	"github.com/utafrali/authority/internal/notify"
	"github.com/utafrali/authority/internal/password"
	"github.com/utafrali/authority/pkg/logger"
	pkgvalidator "github.com/utafrali/authority/pkg/validator"
)

// ResetPasswordInput holds a reset token and the replacement password.
type ResetPasswordInput struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,password,max=72"`
}

// ChangePasswordInput holds the current and replacement passwords.
type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=72"`
	NewPassword     string `json:"newPassword" validate:"required,password,max=72,nefield=CurrentPassword"`
}

// ForgotPassword sends a reset link when email belongs to a principal. It
// reports success in every case so callers cannot discover accounts.
func (s *LifecycleService) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, finish := s.begin(ctx, "forgot_password")
	defer finish(&err)

	email = domain.NormalizeEmail(email)
	storeCtx, cancel := s.storeCtx(ctx)
	principal, lookupErr := s.principals.GetByEmail(storeCtx, email)
	cancel()
	if lookupErr != nil {
		if isNotFound(lookupErr) {
			s.log(ctx).InfoContext(ctx, "password reset requested for unknown email",
				slog.String("email", logger.MaskEmail(email)),
			)
		} else {
			_ = s.internal(ctx, "get principal for password reset", lookupErr)
		}
		return nil
	}

	if err := s.issuePasswordReset(ctx, principal); err != nil {
		// Already logged; the caller still sees success.
		return nil
	}

	s.log(ctx).InfoContext(ctx, "password reset requested", slog.String("principal_id", principal.ID))
	return nil
}

func (s *LifecycleService) issuePasswordReset(ctx context.Context, principal *domain.Principal) error {
	storeCtx, cancel := s.storeCtx(ctx)
	_, err := s.ephemeral.DeleteByPrincipal(storeCtx, principal.ID, domain.KindPasswordReset)
	cancel()
	if err != nil {
		return s.internal(ctx, "supersede reset tokens", err, slog.String("principal_id", principal.ID))
	}

	value, err := s.storeEphemeral(ctx, principal.ID, domain.KindPasswordReset, s.cfg.PasswordResetTTL, s.newResetToken)
	if err != nil {
		return err
	}

	link, err := notify.ResetLink(s.cfg.AppBaseURL, value)
	if err != nil {
		return s.internal(ctx, "build reset link", err)
	}
	s.dispatch(ctx, notify.PasswordResetMessage(principal.ID, principal.Email, principal.Username, link, s.cfg.PasswordResetTTL))
	return nil
}

// ResetPassword consumes a PASSWORD_RESET token, replaces the password and
// revokes every session. Sessions are revoked before the token is claimed, so
// a revocation failure leaves the token usable for a retry. The claim is the
// store's delete-by-match: of concurrent requests with one token only the
// caller that removed it writes a password.
func (s *LifecycleService) ResetPassword(ctx context.Context, input ResetPasswordInput) (err error) {
	ctx, finish := s.begin(ctx, "reset_password")
	defer finish(&err)

	input.Token = strings.TrimSpace(input.Token)
	if err := pkgvalidator.Validate(input); err != nil {
		return validationError(err)
	}

	token, err := s.lookupEphemeral(ctx, domain.KindPasswordReset, input.Token)
	if err != nil {
		return err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	principal, err := s.principals.GetByID(storeCtx, token.PrincipalID)
	cancel()
	if err != nil {
		if isNotFound(err) {
			return errInvalidOrExpired
		}
		return s.internal(ctx, "get principal for reset", err, slog.String("principal_id", token.PrincipalID))
	}

	if err := s.hashPassword(ctx, principal, input.NewPassword); err != nil {
		return err
	}
	if _, err := s.revokeSessions(ctx, principal.ID, "password_reset"); err != nil {
		return err
	}

	claimed, err := s.claim(ctx, token)
	if err != nil {
		return s.internal(ctx, "claim reset token", err, slog.String("principal_id", principal.ID))
	}
	if !claimed {
		s.log(ctx).InfoContext(ctx, "reset token already used", slog.String("principal_id", principal.ID))
		return errInvalidOrExpired
	}

	if err := s.persistPassword(ctx, principal); err != nil {
		return err
	}

	s.publish(ctx, "password.reset", principal.ID, func(ctx context.Context) error {
		return s.events.PublishPasswordReset(ctx, principal.ID)
	})
	s.log(ctx).InfoContext(ctx, "password reset completed", slog.String("principal_id", principal.ID))
	return nil
}

// ChangePassword replaces the password of an authenticated principal after
// checking the current one, then revokes every session.
func (s *LifecycleService) ChangePassword(ctx context.Context, principalID string, input ChangePasswordInput) (err error) {
	ctx, finish := s.begin(ctx, "change_password")
	defer finish(&err)

	if principalID == "" {
		return errUnauthenticated
	}
	if err := pkgvalidator.Validate(input); err != nil {
		return validationError(err)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	principal, err := s.principals.GetByID(storeCtx, principalID)
	cancel()
	if err != nil {
		if isNotFound(err) {
			return domain.NewError(domain.KindNotFound, "principal not found", err)
		}
		return s.internal(ctx, "get principal for password change", err, slog.String("principal_id", principalID))
	}

	if err := s.hasher.Compare(principal.PasswordHash, input.CurrentPassword); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return domain.NewError(domain.KindInvalidCredentials, "current password is incorrect", nil)
		}
		return s.internal(ctx, "compare password", err, slog.String("principal_id", principalID))
	}

	if err := s.replacePassword(ctx, principal, input.NewPassword); err != nil {
		return err
	}
	if _, err := s.revokeSessions(ctx, principal.ID, "password_change"); err != nil {
		return err
	}

	s.log(ctx).InfoContext(ctx, "password changed", slog.String("principal_id", principal.ID))
	return nil
}

func (s *LifecycleService) replacePassword(ctx context.Context, principal *domain.Principal, newPassword string) error {
	if err := s.hashPassword(ctx, principal, newPassword); err != nil {
		return err
	}
	return s.persistPassword(ctx, principal)
}

// hashPassword sets the new verifier on principal without storing it.
func (s *LifecycleService) hashPassword(ctx context.Context, principal *domain.Principal, newPassword string) error {
	if err := principal.SetPassword(newPassword, s.hasher, s.now()); err != nil {
		return s.internal(ctx, "hash new password", err, slog.String("principal_id", principal.ID))
	}
	return nil
}

func (s *LifecycleService) persistPassword(ctx context.Context, principal *domain.Principal) error {
	storeCtx, cancel := s.storeCtx(ctx)
	err := s.principals.UpdatePassword(storeCtx, principal.ID, principal.PasswordHash, principal.UpdatedAt)
	cancel()
	if err != nil {
		if isNotFound(err) {
			return errInvalidOrExpired
		}
		return s.internal(ctx, "update password", err, slog.String("principal_id", principal.ID))
	}
	return nil
}
