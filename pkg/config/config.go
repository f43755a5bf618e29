package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	Credits      CreditsConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	err := multierr.Combine(
		cfg.DB.ensureDSN(),
		cfg.Credits.validate(),
		cfg.Cron.validate(),
		cfg.Outbox.validate(),
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadJWT reads only the token settings, for tooling that must not require a
// database or Redis.
func LoadJWT() (JWTConfig, error) {
	var cfg JWTConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return JWTConfig{}, fmt.Errorf("parsing jwt config: %w", err)
	}
	return cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"CREDITWALLET_APP_ENV" required:"true"`
	Port         string   `envconfig:"CREDITWALLET_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"CREDITWALLET_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"CREDITWALLET_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"CREDITWALLET_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"CREDITWALLET_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CREDITWALLET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CREDITWALLET_DB_DSN"`
	Driver string `envconfig:"CREDITWALLET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CREDITWALLET_DB_HOST"`
	LegacyPort     int    `envconfig:"CREDITWALLET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CREDITWALLET_DB_USER"`
	LegacyPassword string `envconfig:"CREDITWALLET_DB_PASSWORD"`
	LegacyName     string `envconfig:"CREDITWALLET_DB_NAME"`
	LegacySSLMode  string `envconfig:"CREDITWALLET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CREDITWALLET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CREDITWALLET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CREDITWALLET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CREDITWALLET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"CREDITWALLET_DB_SLOW_QUERY" default:"200ms"`
}

// RateLimitConfig bounds consume calls per user in a fixed window.
type RateLimitConfig struct {
	ConsumeLimit  int64         `envconfig:"CREDITWALLET_RATE_LIMIT_CONSUME" default:"120"`
	ConsumeWindow time.Duration `envconfig:"CREDITWALLET_RATE_LIMIT_CONSUME_WINDOW" default:"1m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CREDITWALLET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CREDITWALLET_REDIS_ADDR"`
	Password     string        `envconfig:"CREDITWALLET_REDIS_PASSWORD"`
	DB           int           `envconfig:"CREDITWALLET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CREDITWALLET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CREDITWALLET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CREDITWALLET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CREDITWALLET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CREDITWALLET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for access tokens minted by the
// identity service.
type JWTConfig struct {
	Secret string        `envconfig:"CREDITWALLET_JWT_SECRET" required:"true"`
	Issuer string        `envconfig:"CREDITWALLET_JWT_ISSUER" required:"true"`
	TTL    time.Duration `envconfig:"CREDITWALLET_JWT_TTL" default:"15m"`
}

// CreditsConfig tunes the wallet engine and the recovery batch.
type CreditsConfig struct {
	RetryAttempts        int           `envconfig:"CREDITWALLET_CREDITS_RETRY_ATTEMPTS" default:"3"`
	RetryBackoff         time.Duration `envconfig:"CREDITWALLET_CREDITS_RETRY_BACKOFF" default:"25ms"`
	RecoveryPageSize     int           `envconfig:"CREDITWALLET_CREDITS_RECOVERY_PAGE_SIZE" default:"500"`
	RecoveryConcurrency  int           `envconfig:"CREDITWALLET_CREDITS_RECOVERY_CONCURRENCY" default:"8"`
	IdempotencyReplayTTL time.Duration `envconfig:"CREDITWALLET_CREDITS_IDEMPOTENCY_TTL" default:"24h"`
}

func (c CreditsConfig) validate() error {
	return multierr.Combine(
		atLeastOne(EnvCreditsRetryAttempts, c.RetryAttempts),
		atLeastOne(EnvCreditsRecoveryPageSize, c.RecoveryPageSize),
		atLeastOne(EnvCreditsRecoveryConcurrency, c.RecoveryConcurrency),
	)
}

type CronConfig struct {
	Interval   time.Duration `envconfig:"CREDITWALLET_CRON_INTERVAL" default:"1h"`
	LockTTL    time.Duration `envconfig:"CREDITWALLET_CRON_LOCK_TTL" default:"30m"`
	JobTimeout time.Duration `envconfig:"CREDITWALLET_CRON_JOB_TIMEOUT" default:"20m"`
}

// JobTimeout may not exceed LockTTL; a cycle must finish inside its lease.
func (c CronConfig) validate() error {
	var err error
	if c.Interval <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvCronInterval))
	}
	if c.LockTTL <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvCronLockTTL))
	}
	if c.JobTimeout > c.LockTTL {
		err = multierr.Append(err, fmt.Errorf("%s (%s) must not exceed %s (%s)", EnvCronJobTimeout, c.JobTimeout, EnvCronLockTTL, c.LockTTL))
	}
	return err
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CREDITWALLET_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CREDITWALLET_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CREDITWALLET_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CREDITWALLET_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	CreditsTopic string `envconfig:"CREDITWALLET_PUBSUB_CREDITS_TOPIC" default:"cw-credit-events"`
	DLQTopic     string `envconfig:"CREDITWALLET_PUBSUB_DLQ_TOPIC"`
}

type OutboxConfig struct {
	BatchSize           int           `envconfig:"CREDITWALLET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS      int           `envconfig:"CREDITWALLET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts         int           `envconfig:"CREDITWALLET_OUTBOX_MAX_ATTEMPTS" default:"10"`
	PublishedRetention  time.Duration `envconfig:"CREDITWALLET_OUTBOX_PUBLISHED_RETENTION" default:"720h"`
	DeadLetterRetention time.Duration `envconfig:"CREDITWALLET_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

func (o OutboxConfig) validate() error {
	return multierr.Append(
		atLeastOne(EnvOutboxBatchSize, o.BatchSize),
		atLeastOne(EnvOutboxMaxAttempts, o.MaxAttempts),
	)
}

func atLeastOne(env string, v int) error {
	if v < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", env, v)
	}
	return nil
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
