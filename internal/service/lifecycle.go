package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/authority/internal/auth"
	"github.com/utafrali/authority/internal/domain"
	"github.com/utafrali/authority/internal/notify"
	"github.com/utafrali/authority/internal/repository"
	apperrors "github.com/utafrali/authority/pkg/errors"
	"github.com/utafrali/authority/pkg/logger"
	"github.com/utafrali/authority/pkg/tracing"
	pkgvalidator "github.com/utafrali/authority/pkg/validator"
)

var operationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_lifecycle_operations_total",
		Help: "Lifecycle operations by name and outcome (success or error kind)",
	},
	[]string{"operation", "outcome"},
)

// TokenIssuer mints and verifies signed tokens. *auth.Issuer satisfies it.
type TokenIssuer interface {
	Issue(subjectID, subjectName string, kind auth.Kind, ttl time.Duration) (string, time.Time, error)
	Verify(token string, expected auth.Kind) (*auth.Identity, error)
}

// PasswordHasher hashes and checks passwords. *password.Hasher satisfies it.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hashed, plain string) error
}

// EventPublisher emits lifecycle events. *event.Producer satisfies it.
type EventPublisher interface {
	PublishPrincipalRegistered(ctx context.Context, p *domain.Principal) error
	PublishPrincipalVerified(ctx context.Context, principalID string) error
	PublishPasswordReset(ctx context.Context, principalID string) error
	PublishSessionsRevoked(ctx context.Context, principalID, reason string, revoked int64) error
}

// Config holds lifetimes and timeouts for the lifecycle engine.
type Config struct {
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	VerificationTTL  time.Duration
	PasswordResetTTL time.Duration
	AppBaseURL       string
	StoreTimeout     time.Duration
	NotifyTimeout    time.Duration
}

// DefaultConfig returns the standard lifetimes.
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		VerificationTTL:  15 * time.Minute,
		PasswordResetTTL: time.Hour,
		AppBaseURL:       "http://localhost:3000",
		StoreTimeout:     5 * time.Second,
		NotifyTimeout:    5 * time.Second,
	}
}

// Option configures a LifecycleService.
type Option func(*LifecycleService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *LifecycleService) { s.now = now }
}

// WithTokenGenerators overrides how verification codes and reset tokens are
// drawn. A nil generator keeps the default.
func WithTokenGenerators(code, reset func() (string, error)) Option {
	return func(s *LifecycleService) {
		if code != nil {
			s.newCode = code
		}
		if reset != nil {
			s.newResetToken = reset
		}
	}
}

// LifecycleService implements signup, verification, sessions and password
// recovery. It holds no locks; the stores are the only synchronisation points.
type LifecycleService struct {
	principals repository.PrincipalRepository
	ephemeral  repository.EphemeralTokenRepository
	sessions   repository.SessionTokenRepository
	issuer     TokenIssuer
	hasher     PasswordHasher
	dispatcher notify.Dispatcher
	events     EventPublisher
	cfg        Config
	now        func() time.Time
	logger     *slog.Logger

	newCode       func() (string, error)
	newResetToken func() (string, error)

	dummyOnce sync.Once
	dummyHash string
}

// NewLifecycleService creates the lifecycle engine.
func NewLifecycleService(
	principals repository.PrincipalRepository,
	ephemeral repository.EphemeralTokenRepository,
	sessions repository.SessionTokenRepository,
	issuer TokenIssuer,
	hasher PasswordHasher,
	dispatcher notify.Dispatcher,
	events EventPublisher,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *LifecycleService {
	s := &LifecycleService{
		principals: principals,
		ephemeral:  ephemeral,
		sessions:   sessions,
		issuer:     issuer,
		hasher:     hasher,
		dispatcher: dispatcher,
		events:     events,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,

		newCode:       domain.NewVerificationCode,
		newResetToken: domain.NewResetToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- helpers ---

// begin opens a span and returns a finisher that records the outcome metric.
func (s *LifecycleService) begin(ctx context.Context, operation string) (context.Context, func(*error)) {
	ctx, span := tracing.Start(ctx, "LifecycleService."+operation)
	return ctx, func(errp *error) {
		err := *errp
		outcome := "success"
		if err != nil {
			outcome = string(domain.KindOf(err))
		}
		operationsTotal.WithLabelValues(operation, outcome).Inc()
		if domain.KindOf(err) == domain.KindInternal {
			tracing.End(span, err)
			return
		}
		tracing.End(span, nil)
	}
}

func (s *LifecycleService) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, s.logger)
}

func (s *LifecycleService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return boundedContext(ctx, s.cfg.StoreTimeout)
}

// boundedContext applies timeout when it is positive.
func boundedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// internal logs err with its operation and returns the opaque Internal error.
func (s *LifecycleService) internal(ctx context.Context, what string, err error, attrs ...any) error {
	args := append([]any{slog.String("operation", what), slog.String("error", err.Error())}, attrs...)
	s.log(ctx).ErrorContext(ctx, "lifecycle operation failed", args...)
	return domain.NewError(domain.KindInternal, "internal error", fmt.Errorf("%s: %w", what, err))
}

// dispatch delivers msg on a context detached from request cancellation and
// bounded by NotifyTimeout. Failures are logged only.
func (s *LifecycleService) dispatch(ctx context.Context, msg notify.Message) {
	sendCtx, cancel := boundedContext(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	defer cancel()

	if err := s.dispatcher.Send(sendCtx, msg); err != nil {
		s.log(ctx).ErrorContext(ctx, "notification dispatch failed",
			slog.String("principal_id", msg.PrincipalID),
			slog.String("transport", s.dispatcher.Name()),
			slog.String("purpose", string(msg.Purpose)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *LifecycleService) publish(ctx context.Context, name, principalID string, fn func(context.Context) error) {
	if s.events == nil {
		return
	}
	if err := fn(ctx); err != nil {
		s.log(ctx).ErrorContext(ctx, "failed to publish event",
			slog.String("event", name),
			slog.String("principal_id", principalID),
			slog.String("error", err.Error()),
		)
	}
}

// dummyCompare spends the same bcrypt work as a real comparison so unknown
// identifiers are not distinguishable by latency.
func (s *LifecycleService) dummyCompare(plain string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("dummy-password-for-timing")
	})
	if s.dummyHash != "" {
		_ = s.hasher.Compare(s.dummyHash, plain)
	}
}

func validationError(err error) error {
	var verr *pkgvalidator.ValidationError
	if errors.As(err, &verr) {
		return domain.NewError(domain.KindValidation, verr.Error(), verr)
	}
	return domain.NewError(domain.KindValidation, err.Error(), err)
}

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}
