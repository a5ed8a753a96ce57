package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/utafrali/authority/pkg/errors"
	"github.com/utafrali/authority/pkg/httputil"
)

// KeyFunc derives the limiter key for a request.
type KeyFunc func(r *http.Request) string

// ByClientIPAndPath keys on the client address and request path so signup
// attempts do not consume the login budget.
func ByClientIPAndPath(r *http.Request) string {
	return httputil.ClientIP(r) + "|" + r.URL.Path
}

// Middleware rejects requests over budget with 429. Limiter errors fail open.
func Middleware(l Limiter, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), key(r))
			if err != nil {
				logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
					slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if !res.Allowed {
				retry := int(time.Until(res.ResetAt).Round(time.Second).Seconds())
				if retry < 1 {
					retry = 1
				}
				h.Set("Retry-After", strconv.Itoa(retry))
				logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("client_ip", httputil.ClientIP(r)),
					slog.String("path", r.URL.Path),
				)
				httputil.WriteError(w, r, apperrors.TooManyRequests("too many requests, try again later"), logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
