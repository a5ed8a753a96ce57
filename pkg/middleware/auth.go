package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/authority/pkg/errors"
	"github.com/utafrali/authority/pkg/httputil"
	"github.com/utafrali/authority/pkg/logger"
)

type contextKeyType string

const principalKey contextKeyType = "principal"

// AccessCookieName is the cookie consulted when no bearer header is present.
const AccessCookieName = "accessToken"

// Error codes written by the gate.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeInvalidToken    = "INVALID_TOKEN"
)

// Principal is the authenticated identity placed in the request context.
type Principal struct {
	ID   string
	Name string
}

// TokenVerifier checks an access token and returns the identity it names.
type TokenVerifier func(token string) (*Principal, error)

// Auth is the access gate: it extracts a bearer token from the Authorization
// header or, failing that, the access cookie, verifies it and stores the
// principal in the request context. It never consults a store.
func Auth(verify TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, present := BearerToken(r)
			if !present {
				gateRejections.WithLabelValues("missing_token").Inc()
				httputil.WriteError(w, r, apperrors.New(CodeUnauthenticated, http.StatusUnauthorized,
					"authentication required", apperrors.ErrUnauthorized), nil)
				return
			}

			var p *Principal
			var err error
			if token != "" {
				p, err = verify(token)
			}
			if token == "" || err != nil || p == nil {
				gateRejections.WithLabelValues("invalid_token").Inc()
				httputil.WriteError(w, r, apperrors.New(CodeInvalidToken, http.StatusUnauthorized,
					"invalid or expired token", apperrors.ErrUnauthorized), nil)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, *p)
			ctx = logger.WithPrincipalID(ctx, p.ID)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("principal_id", p.ID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken returns the token from "Authorization: Bearer <t>" or the access
// cookie. The header wins when both are present. present reports whether the
// request offered a credential at all; a malformed header is present with an
// empty token.
func BearerToken(r *http.Request) (token string, present bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return "", true
		}
		return strings.TrimSpace(token), true
	}
	if c, err := r.Cookie(AccessCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// PrincipalFromContext returns the identity stored by Auth.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithPrincipal stores p in ctx. Used by tests and internal callers that
// authenticate by other means.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}
