package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/utafrali/authority/internal/auth"
	"github.com/utafrali/authority/internal/config"
	"github.com/utafrali/authority/internal/event"
	handler "github.com/utafrali/authority/internal/handler/http"
	"github.com/utafrali/authority/internal/notify"
	"github.com/utafrali/authority/internal/password"
	"github.com/utafrali/authority/internal/repository"
	"github.com/utafrali/authority/internal/repository/memory"
	"github.com/utafrali/authority/internal/repository/postgres"
	redisrepo "github.com/utafrali/authority/internal/repository/redis"
	"github.com/utafrali/authority/internal/service"
	"github.com/utafrali/authority/migrations"
	"github.com/utafrali/authority/pkg/database"
	"github.com/utafrali/authority/pkg/health"
	"github.com/utafrali/authority/pkg/httpclient"
	pkgkafka "github.com/utafrali/authority/pkg/kafka"
	"github.com/utafrali/authority/pkg/middleware"
	"github.com/utafrali/authority/pkg/ratelimit"
	"github.com/utafrali/authority/pkg/tracing"
)

// App wires together all dependencies and runs the authority service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	sweeper        *repository.Sweeper
	localLimiter   *ratelimit.LocalLimiter
	httpServer     *http.Server
	tracerShutdown func(context.Context) error

	stopBackground context.CancelFunc
	background     sync.WaitGroup
}

type stores struct {
	principals repository.PrincipalRepository
	ephemeral  repository.EphemeralTokenRepository
	sessions   repository.SessionTokenRepository
}

// NewApp creates a new application instance, initializing all dependencies.
// Resources opened before a failure are released.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	st, err := a.initStores(ctx)
	if err != nil {
		return nil, err
	}

	// Initialize Kafka producer. Disabled means lifecycle events are dropped.
	var kafkaPublisher event.Publisher
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: cfg.NotifyTimeout,
		}, logger)
		kafkaPublisher = a.producer
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return nil, err
	}
	logger.Info("notification transport selected", slog.String("transport", dispatcher.Name()))

	// Build the dependency graph.
	issuer, err := auth.NewIssuer(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.TokenIssuer)
	if err != nil {
		return nil, fmt.Errorf("create token issuer: %w", err)
	}
	lifecycle := service.NewLifecycleService(
		st.principals, st.ephemeral, st.sessions,
		issuer,
		password.NewHasher(cfg.BcryptCost),
		dispatcher,
		event.NewProducer(kafkaPublisher, logger),
		service.Config{
			AccessTokenTTL:   cfg.AccessTokenTTL,
			RefreshTokenTTL:  cfg.RefreshTokenTTL,
			VerificationTTL:  cfg.VerificationTTL,
			PasswordResetTTL: cfg.PasswordResetTTL,
			AppBaseURL:       cfg.AppBaseURL,
			StoreTimeout:     cfg.StoreTimeout,
			NotifyTimeout:    cfg.NotifyTimeout,
		},
		logger,
	)

	a.sweeper = repository.NewSweeper(map[string]repository.Expirer{
		"ephemeral_tokens": st.ephemeral,
		"session_tokens":   st.sessions,
	}, cfg.SweepInterval, cfg.StoreTimeout, time.Now, logger)

	limiter := a.newRateLimiter()

	// HTTP router.
	router := handler.NewRouter(lifecycle, handler.TokenVerifier(issuer), a.healthChecks(), handler.RouterConfig{
		ServiceName: cfg.ServiceName,
		CORS:        a.corsConfig(),
		Cookies: handler.CookieConfig{
			Secure:      cfg.IsProduction(),
			RefreshPath: cfg.RefreshCookiePath,
		},
		RateLimiter: limiter,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) initStores(ctx context.Context) (*stores, error) {
	cfg := a.cfg
	st := &stores{}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		a.logger.Warn("using in-memory stores, all state is lost on restart")
		st.principals = memory.NewPrincipalStore()
		st.ephemeral = memory.NewEphemeralStore()
		st.sessions = memory.NewSessionStore()

	default:
		pgCfg := cfg.Postgres()
		pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		a.logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, cfg.ServiceName); err != nil {
			a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}

		// Run database migrations.
		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("database migrations completed")

		// Configure slow query logging.
		if cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
		}

		st.principals = postgres.NewPrincipalRepository(pool)
		st.ephemeral = postgres.NewEphemeralTokenRepository(pool)
		st.sessions = postgres.NewSessionTokenRepository(pool)
	}

	if cfg.NeedsRedis() {
		client, err := database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		a.logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
	}
	if cfg.EphemeralStore == config.EphemeralRedis {
		st.ephemeral = redisrepo.NewEphemeralStore(a.redis, time.Now)
	}

	return st, nil
}

func (a *App) newDispatcher() (notify.Dispatcher, error) {
	cfg := a.cfg
	switch transport := cfg.NotifyTransportOrDefault(); transport {
	case config.TransportLog:
		return notify.NewLogDispatcher(a.logger), nil
	case config.TransportSMTP:
		d, err := notify.NewSMTPDispatcher(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  cfg.NotifyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.TransportWebhook:
		httpCfg := httpclient.DefaultConfig()
		httpCfg.Timeout = cfg.NotifyTimeout
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(httpCfg),
			httpclient.DefaultCircuitBreakerConfig("notify-webhook"),
			a.logger,
		)
		return notify.NewWebhookDispatcher(client, cfg.NotifyEndpoint, cfg.NotifyAPIKey), nil
	case config.TransportKafka:
		if a.producer == nil {
			return nil, errors.New("kafka notification transport requires KAFKA_ENABLED=true")
		}
		return notify.NewEventDispatcher(a.producer), nil
	default:
		return nil, fmt.Errorf("unknown notification transport %q", transport)
	}
}

func (a *App) newRateLimiter() ratelimit.Limiter {
	cfg := a.cfg
	if !cfg.RateLimitEnabled {
		return nil
	}
	if cfg.RateLimitBackend == "redis" && a.redis != nil {
		return ratelimit.NewRedisLimiter(a.redis, cfg.ServiceName+":ratelimit:", cfg.RateLimitMax, cfg.RateLimitWindow)
	}
	a.localLimiter = ratelimit.NewLocalLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	return a.localLimiter
}

func (a *App) healthChecks() *health.Handler {
	h := health.NewHandler(a.cfg.StoreTimeout)
	if a.pool != nil {
		pool := a.pool
		h.Register("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
	}
	if a.redis != nil {
		client := a.redis
		check := func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
		// Redis holds live tokens only when it is the ephemeral store.
		if a.cfg.EphemeralStore == config.EphemeralRedis {
			h.Register("redis", check)
		} else {
			h.RegisterOptional("redis", check)
		}
	}
	if a.producer != nil {
		producer := a.producer
		h.RegisterOptional("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}
	return h
}

func (a *App) corsConfig() middleware.CORSConfig {
	c := middleware.DefaultCORSConfig()
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		c.AllowedOrigins = a.cfg.CORSAllowedOrigins
	}
	return c
}

// Handler returns the HTTP handler, for in-process use.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and background workers and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	bgCtx, stop := context.WithCancel(context.Background())
	a.stopBackground = stop
	a.startBackground(bgCtx)

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

func (a *App) startBackground(ctx context.Context) {
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		a.sweeper.Run(ctx)
	}()

	if a.localLimiter != nil {
		a.background.Add(1)
		go func() {
			defer a.background.Done()
			a.localLimiter.Run(ctx)
		}()
	}
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Background workers (sweeper, limiter janitor)
// 3. Tracer (flush pending spans from drained requests)
// 4. Kafka producer, Redis client, PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.HTTPShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Stop background workers.
	if a.stopBackground != nil {
		a.stopBackground()
	}
	a.background.Wait()

	// 3. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	// 4. Close outbound clients and pools.
	errs = append(errs, a.closeResources()...)

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources() []error {
	var errs []error
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return errs
}
