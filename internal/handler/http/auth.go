package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/authority/internal/domain"
	"github.com/utafrali/authority/internal/service"
	"github.com/utafrali/authority/pkg/httputil"
	"github.com/utafrali/authority/pkg/middleware"
	"github.com/utafrali/authority/pkg/validator"
)

// Lifecycle is the engine surface exposed over HTTP.
// *service.LifecycleService satisfies it.
type Lifecycle interface {
	Signup(ctx context.Context, input service.SignupInput) (*service.SignupResult, error)
	VerifyEmail(ctx context.Context, code string) error
	ResendVerification(ctx context.Context, email string) error
	Login(ctx context.Context, input service.LoginInput) (*service.LoginResult, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*service.AccessResult, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context, principalID string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, input service.ResetPasswordInput) error
	ChangePassword(ctx context.Context, principalID string, input service.ChangePasswordInput) error
	GetProfile(ctx context.Context, principalID string) (*domain.PublicPrincipal, error)
}

// AuthHandler handles HTTP requests for the /auth endpoints.
type AuthHandler struct {
	service Lifecycle
	cookies CookieConfig
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc Lifecycle, cookies CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, cookies: cookies, logger: logger}
}

// --- Request DTOs ---

// SignupRequest is the JSON request body for signup. Field rules are enforced
// by the engine so that every caller gets the same policy.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyEmailRequest carries the emailed verification code.
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// EmailRequest is used by resend-verification and forgot-password.
type EmailRequest struct {
	Email string `json:"email"`
}

// LoginRequest accepts a username or an email in Username.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest optionally carries the refresh token; the cookie is used otherwise.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ResetPasswordRequest is the JSON request body for password reset.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ChangePasswordRequest is the JSON request body for password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// --- Response types ---

// SignupResponse is returned with 201.
type SignupResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// LoginResponse carries the token pair and the public principal.
type LoginResponse struct {
	AccessToken      string                 `json:"accessToken"`
	RefreshToken     string                 `json:"refreshToken"`
	AccessExpiresAt  time.Time              `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time              `json:"refreshExpiresAt"`
	User             domain.PublicPrincipal `json:"user"`
}

// RefreshResponse carries a new access token.
type RefreshResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ProfileResponse wraps the authenticated principal.
type ProfileResponse struct {
	User *domain.PublicPrincipal `json:"user"`
}

// decode reads the body into dst. Malformed JSON is answered with 400 and
// false is returned.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := validator.DecodeAndValidate(r, dst); err != nil {
		httputil.WriteValidationError(w, r, err)
		return false
	}
	return true
}

// --- Handlers ---

// Signup handles POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.Signup(r.Context(), service.SignupInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeLifecycleError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, SignupResponse{
		Message: "signup successful, check your email for a verification code",
		UserID:  res.PrincipalID,
	})
}

// VerifyEmail handles POST /auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		writeLifecycleError(w, r, err, h.logger)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "email verified successfully")
}

// ResendVerification handles POST /auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		writeLifecycleError(w, r, err, h.logger)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "a new verification code has been sent")
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.Login(r.Context(), service.LoginInput{Username: req.Username, Password: req.Password})
	if err != nil {
		writeLifecycleError(w, r, err, h.logger)
		return
	}

	h.cookies.setAccess(w, res.AccessToken, res.AccessExpiresAt)
	h.cookies.setRefresh(w, res.RefreshToken, res.RefreshExpiresAt)
	httputil.WriteJSON(w, http.StatusOK, LoginResponse{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
		User:             res.Principal,
	})
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.RefreshAccessToken(r.Context(), refreshToken(r, req.RefreshToken))
	if err != nil {
		writeLifecycleError(w, r, err, h.logger)
		return
	}

	h.cookies.setAccess(w, res.AccessToken, res.ExpiresAt)
	httputil.WriteJSON(w, http.StatusOK, RefreshResponse{AccessToken: res.AccessToken, ExpiresAt: res.ExpiresAt})
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.Logout(r.Context(), refreshToken(r, req.RefreshToken)); err != nil {
		writeLifecycleError(w, r, err, h.logger)
		return
	}

	h.cookies.clear(w)
	httputil.WriteMessage(w, http.StatusOK, "logged out successfully")
}

// LogoutAll handles POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	if err := h.service.LogoutAll(r.Context(), p.ID); err != nil {
		writeLifecycleError(w, r, err, h.logger)
		return
	}

	h.cookies.clear(w)
	httputil.WriteMessage(w, http.StatusOK, "logged out from all devices")
}

// ForgotPassword handles POST /auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		writeLifecycleError(w, r, err, h.logger)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, "if the email exists, a password reset link has been sent")
}

// ResetPassword handles POST /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.service.ResetPassword(r.Context(), service.ResetPasswordInput{Token: req.Token, NewPassword: req.NewPassword})
	if err != nil {
		writeLifecycleError(w, r, err, h.logger)
		return
	}

	h.cookies.clear(w)
	httputil.WriteMessage(w, http.StatusOK, "password has been reset successfully")
}

// ChangePassword handles POST /auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())

	err := h.service.ChangePassword(r.Context(), p.ID, service.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		writeLifecycleError(w, r, err, h.logger)
		return
	}

	h.cookies.clear(w)
	httputil.WriteMessage(w, http.StatusOK, "password changed, please log in again")
}

// Profile handles GET /profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeLifecycleError(w, r, domain.NewError(domain.KindUnauthenticated, "authentication required", nil), h.logger)
		return
	}

	user, err := h.service.GetProfile(r.Context(), p.ID)
	if err != nil {
		writeLifecycleError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ProfileResponse{User: user})
}
