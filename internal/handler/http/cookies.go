package http

import (
	"net/http"
	"time"

	"github.com/utafrali/authority/pkg/middleware"
)

// RefreshCookieName holds the refresh token when clients rely on cookies.
const RefreshCookieName = "refreshToken"

// CookieConfig controls the session cookies set on login and refresh.
type CookieConfig struct {
	Secure      bool
	RefreshPath string
}

// refreshPath scopes the refresh cookie. The default covers every /auth route
// so that refresh and logout both receive it.
func (c CookieConfig) refreshPath() string {
	if c.RefreshPath == "" {
		return "/auth"
	}
	return c.RefreshPath
}

func (c CookieConfig) cookie(name, value, path string, expires time.Time) *http.Cookie {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (c CookieConfig) setAccess(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, c.cookie(middleware.AccessCookieName, token, "/", expires))
}

func (c CookieConfig) setRefresh(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, c.cookie(RefreshCookieName, token, c.refreshPath(), expires))
}

// clear expires both session cookies.
func (c CookieConfig) clear(w http.ResponseWriter) {
	for _, ck := range []*http.Cookie{
		{Name: middleware.AccessCookieName, Path: "/"},
		{Name: RefreshCookieName, Path: c.refreshPath()},
	} {
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
		ck.HttpOnly = true
		ck.Secure = c.Secure
		ck.SameSite = http.SameSiteStrictMode
		http.SetCookie(w, ck)
	}
}

// refreshToken prefers the body value and falls back to the cookie.
func refreshToken(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if ck, err := r.Cookie(RefreshCookieName); err == nil {
		return ck.Value
	}
	return ""
}
