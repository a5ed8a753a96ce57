package http

import (
	"net/http"
	"strings"

	"github.com/utafrali/authority/internal/auth"
	"github.com/utafrali/authority/pkg/middleware"
)

// ContentTypeJSON rejects request bodies that are not declared as JSON.
// Bodyless POSTs (logout with a cookie) pass through.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// AccessVerifier is the subset of auth.Issuer the gate needs.
type AccessVerifier interface {
	Verify(token string, expected auth.Kind) (*auth.Identity, error)
}

// TokenVerifier bridges the issuer to the access gate. Only access tokens are
// accepted.
func TokenVerifier(v AccessVerifier) middleware.TokenVerifier {
	return func(token string) (*middleware.Principal, error) {
		id, err := v.Verify(token, auth.KindAccess)
		if err != nil {
			return nil, err
		}
		return &middleware.Principal{ID: id.SubjectID, Name: id.SubjectName}, nil
	}
}
