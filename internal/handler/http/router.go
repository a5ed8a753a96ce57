package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/authority/pkg/health"
	"github.com/utafrali/authority/pkg/middleware"
	"github.com/utafrali/authority/pkg/ratelimit"
)

// RouterConfig carries the HTTP-only settings of the router.
type RouterConfig struct {
	ServiceName string
	CORS        middleware.CORSConfig
	Cookies     CookieConfig
	// RateLimiter guards /auth/*. Nil disables limiting.
	RateLimiter ratelimit.Limiter
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(
	svc Lifecycle,
	verify middleware.TokenVerifier,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(svc, cfg.Cookies, logger)
	gate := middleware.Auth(verify)

	r.Route("/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		if cfg.RateLimiter != nil {
			r.Use(ratelimit.Middleware(cfg.RateLimiter, ratelimit.ByClientIPAndPath, logger))
		}

		r.Post("/signup", authHandler.Signup)
		r.Post("/verify-email", authHandler.VerifyEmail)
		r.Post("/resend-verification", authHandler.ResendVerification)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/reset-password", authHandler.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(gate)
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Post("/change-password", authHandler.ChangePassword)
		})
	})

	r.With(gate).Get("/profile", authHandler.Profile)

	return r
}
