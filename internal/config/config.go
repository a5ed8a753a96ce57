package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/utafrali/authority/pkg/config"
	"github.com/utafrali/authority/pkg/database"
	"github.com/utafrali/authority/pkg/tracing"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreMemory   = "memory"
	StorePostgres = "postgres"

	EphemeralPrimary = "primary"
	EphemeralRedis   = "redis"

	TransportLog     = "log"
	TransportSMTP    = "smtp"
	TransportWebhook = "webhook"
	TransportKafka   = "kafka"

	// Default secrets let the service boot in development without setup.
	// They are rejected in production.
	defaultAccessSecret  = "dev-access-secret-change-me"
	defaultRefreshSecret = "dev-refresh-secret-change-me"

	minSecretLength = 32
)

// Config holds all configuration for the authority service.
type Config struct {
	ServiceName    string `env:"SERVICE_NAME" envDefault:"authority"`
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort            int           `env:"HTTP_PORT" envDefault:"3000"`
	HTTPReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	HTTPShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Token signing
	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET" envDefault:"dev-access-secret-change-me"`
	RefreshTokenSecret string        `env:"REFRESH_TOKEN_SECRET" envDefault:"dev-refresh-secret-change-me"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	TokenIssuer        string        `env:"TOKEN_ISSUER" envDefault:"authority"`

	// Ephemeral tokens
	VerificationTTL  time.Duration `env:"VERIFICATION_TTL" envDefault:"15m"`
	PasswordResetTTL time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"1h"`
	AppBaseURL       string        `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
	BcryptCost       int           `env:"BCRYPT_COST" envDefault:"12"`

	// Cookies
	RefreshCookiePath string `env:"REFRESH_COOKIE_PATH" envDefault:"/auth"`

	// Stores
	StoreDriver    string        `env:"STORE_DRIVER" envDefault:"postgres"`
	EphemeralStore string        `env:"EPHEMERAL_STORE" envDefault:"primary"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	// PostgreSQL
	DatabaseURL          string        `env:"DATABASE_URL"`
	PostgresHost         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser         string        `env:"POSTGRES_USER" envDefault:"authority"`
	PostgresPass         string        `env:"POSTGRES_PASSWORD" envDefault:"authority_secret"`
	PostgresDB           string        `env:"POSTGRES_DB" envDefault:"authority"`
	PostgresSSL          string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns           int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetime    time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	SlowQueryThresholdMs int           `env:"DB_SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Notification
	NotifyTransport string        `env:"NOTIFY_TRANSPORT"`
	NotifyTimeout   time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
	NotifyEndpoint  string        `env:"NOTIFY_ENDPOINT"`
	NotifyAPIKey    string        `env:"NOTIFY_API_KEY"`
	SMTPHost        string        `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort        int           `env:"SMTP_PORT" envDefault:"1025"`
	SMTPUsername    string        `env:"SMTP_USERNAME"`
	SMTPPassword    string        `env:"SMTP_PASSWORD"`
	SMTPFrom        string        `env:"SMTP_FROM" envDefault:"no-reply@authority.local"`

	// Rate limiting on /auth routes
	RateLimitEnabled bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" envDefault:"local"`
	RateLimitMax     int           `env:"RATE_LIMIT_MAX" envDefault:"20"`
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELInsecure   bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load authority config: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and, in production, signing-secret strength.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.HTTPPort))
	}
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		errs = append(errs, fmt.Errorf("ENVIRONMENT must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment))
	}
	for name, d := range map[string]time.Duration{
		"ACCESS_TOKEN_TTL":   c.AccessTokenTTL,
		"REFRESH_TOKEN_TTL":  c.RefreshTokenTTL,
		"VERIFICATION_TTL":   c.VerificationTTL,
		"PASSWORD_RESET_TTL": c.PasswordResetTTL,
		"STORE_TIMEOUT":      c.StoreTimeout,
		"NOTIFY_TIMEOUT":     c.NotifyTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.StoreDriver != StoreMemory && c.StoreDriver != StorePostgres {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q", StoreMemory, StorePostgres))
	}
	if c.EphemeralStore != EphemeralPrimary && c.EphemeralStore != EphemeralRedis {
		errs = append(errs, fmt.Errorf("EPHEMERAL_STORE must be %q or %q", EphemeralPrimary, EphemeralRedis))
	}
	switch c.NotifyTransportOrDefault() {
	case TransportLog, TransportSMTP:
	case TransportWebhook:
		if _, err := url.ParseRequestURI(c.NotifyEndpoint); err != nil {
			errs = append(errs, errors.New("NOTIFY_ENDPOINT must be an absolute URL for the webhook transport"))
		}
	case TransportKafka:
		if !c.KafkaEnabled {
			errs = append(errs, errors.New("NOTIFY_TRANSPORT=kafka requires KAFKA_ENABLED=true"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFY_TRANSPORT %q", c.NotifyTransport))
	}
	if c.RateLimitBackend != "local" && c.RateLimitBackend != "redis" {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be \"local\" or \"redis\""))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}

	if c.IsProduction() {
		errs = append(errs, checkSecret("ACCESS_TOKEN_SECRET", c.AccessTokenSecret, defaultAccessSecret)...)
		errs = append(errs, checkSecret("REFRESH_TOKEN_SECRET", c.RefreshTokenSecret, defaultRefreshSecret)...)
		if c.AccessTokenSecret == c.RefreshTokenSecret {
			errs = append(errs, errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ"))
		}
		if c.StoreDriver == StoreMemory {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
		if c.NotifyTransportOrDefault() == TransportLog {
			errs = append(errs, errors.New("NOTIFY_TRANSPORT=log is not allowed in production"))
		}
	}

	return errors.Join(errs...)
}

func checkSecret(name, value, def string) []error {
	if value == def || value == "" {
		return []error{fmt.Errorf("%s must be explicitly set in production", name)}
	}
	if len(value) < minSecretLength {
		return []error{fmt.Errorf("%s must be at least %d characters long, got %d", name, minSecretLength, len(value))}
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// NotifyTransportOrDefault resolves an unset transport: SMTP in development
// (MailHog), webhook in production.
func (c *Config) NotifyTransportOrDefault() string {
	if c.NotifyTransport != "" {
		return c.NotifyTransport
	}
	if c.IsProduction() {
		return TransportWebhook
	}
	return TransportSMTP
}

// Postgres returns the pool configuration.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		URL:             c.DatabaseURL,
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: c.DBMaxConnLifetime,
		MaxConnIdleTime: c.DBMaxConnIdleTime,
	}
}

// Redis returns the Redis client configuration.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:         c.RedisHost,
		Port:         c.RedisPort,
		Password:     c.RedisPassword,
		DB:           c.RedisDB,
		DialTimeout:  c.StoreTimeout,
		ReadTimeout:  c.StoreTimeout,
		WriteTimeout: c.StoreTimeout,
	}
}

// NeedsRedis reports whether any component is configured to use Redis.
func (c *Config) NeedsRedis() bool {
	return c.EphemeralStore == EphemeralRedis || (c.RateLimitEnabled && c.RateLimitBackend == "redis")
}

// Tracing returns the OpenTelemetry configuration.
func (c *Config) Tracing() tracing.Config {
	return tracing.Config{
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTELEndpoint,
		Insecure:       c.OTELInsecure,
		SampleRate:     c.OTELSampleRate,
		Enabled:        c.OTELEnabled,
	}
}
