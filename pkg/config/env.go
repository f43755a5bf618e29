package config

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "CREDITWALLET_APP_ENV"
	EnvPort   = "CREDITWALLET_APP_PORT"

	EnvDBDSN  = "CREDITWALLET_DB_DSN"
	EnvDBHost = "CREDITWALLET_DB_HOST"
	EnvDBUser = "CREDITWALLET_DB_USER"
	EnvDBPass = "CREDITWALLET_DB_PASSWORD"
	EnvDBName = "CREDITWALLET_DB_NAME"

	EnvRedisURL = "CREDITWALLET_REDIS_URL"

	EnvJWTSecret = "CREDITWALLET_JWT_SECRET"
	EnvJWTIssuer = "CREDITWALLET_JWT_ISSUER"

	EnvCreditsRetryAttempts       = "CREDITWALLET_CREDITS_RETRY_ATTEMPTS"
	EnvCreditsRetryBackoff        = "CREDITWALLET_CREDITS_RETRY_BACKOFF"
	EnvCreditsRecoveryPageSize    = "CREDITWALLET_CREDITS_RECOVERY_PAGE_SIZE"
	EnvCreditsRecoveryConcurrency = "CREDITWALLET_CREDITS_RECOVERY_CONCURRENCY"

	EnvCronInterval   = "CREDITWALLET_CRON_INTERVAL"
	EnvCronLockTTL    = "CREDITWALLET_CRON_LOCK_TTL"
	EnvCronJobTimeout = "CREDITWALLET_CRON_JOB_TIMEOUT"

	EnvOutboxBatchSize   = "CREDITWALLET_OUTBOX_PUBLISH_BATCH_SIZE"
	EnvOutboxMaxAttempts = "CREDITWALLET_OUTBOX_MAX_ATTEMPTS"
)

// legacyDBEnvVars must all be present when no DSN is configured.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
