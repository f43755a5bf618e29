package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/creditwallet-backend/internal/credits"
	"github.com/angelmondragon/creditwallet-backend/internal/cron"
	"github.com/angelmondragon/creditwallet-backend/internal/grants"
	"github.com/angelmondragon/creditwallet-backend/internal/ledger"
	"github.com/angelmondragon/creditwallet-backend/internal/wallets"
	"github.com/angelmondragon/creditwallet-backend/pkg/config"
	"github.com/angelmondragon/creditwallet-backend/pkg/db"
	"github.com/angelmondragon/creditwallet-backend/pkg/instance"
	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
	"github.com/angelmondragon/creditwallet-backend/pkg/metrics"
	"github.com/angelmondragon/creditwallet-backend/pkg/migrate"
	"github.com/angelmondragon/creditwallet-backend/pkg/outbox"
	"github.com/angelmondragon/creditwallet-backend/pkg/redis"
)

const serviceKind = "cron-worker"

type options struct {
	once bool
	jobs []string
}

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	only := flag.String("jobs", "", "comma-separated job names to run (default all)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logg, options{once: *once, jobs: splitJobs(*only)}); err != nil {
		logg.Error(ctx, "cron worker exited", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
		Static:      map[string]string{"env": cfg.App.Env, "instance": instance.GetID()},
	})
	ctx = logg.WithField(ctx, "serviceKind", cfg.Service.Kind)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	jobs, err := buildJobs(cfg, logg, dbClient)
	if err != nil {
		return err
	}
	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		return fmt.Errorf("job registry: %w", err)
	}
	if registry, err = registry.Only(opts.jobs...); err != nil {
		return fmt.Errorf("invalid -jobs selection: %w", err)
	}

	lockKey := redisClient.LockKey(serviceKind + ":" + envOrLocal(cfg.App.Env))
	locker, err := cron.NewRedisLocker(redisClient, lockKey, cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Locker:     locker,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	logg.Info(logg.WithField(ctx, "once", opts.once), "starting cron worker")
	if opts.once {
		return service.RunOnce(ctx)
	}
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

// buildJobs wires the recovery sweep and outbox retention against one pool.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) ([]cron.Job, error) {
	creditMetrics := metrics.NewCreditMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), outboxService)
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	grantRepo := grants.NewRepository(dbClient.DB())
	creditService, err := credits.NewService(credits.ServiceParams{
		TxRunner:      dbClient,
		Wallets:       wallets.NewRepository(dbClient.DB()),
		Grants:        grantRepo,
		Ledger:        ledgerService,
		Outbox:        outboxService,
		Metrics:       creditMetrics,
		Logger:        logg,
		RetryAttempts: cfg.Credits.RetryAttempts,
		RetryBackoff:  cfg.Credits.RetryBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("credit service: %w", err)
	}
	batch, err := credits.NewBatchRecoveryScheduler(grantRepo, creditService, creditMetrics, logg)
	if err != nil {
		return nil, fmt.Errorf("recovery scheduler: %w", err)
	}

	recoveryJob, err := cron.NewCreditRecoveryJob(cron.CreditRecoveryJobParams{
		Logger:      logg,
		Batch:       batch,
		PageSize:    cfg.Credits.RecoveryPageSize,
		Concurrency: cfg.Credits.RecoveryConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("credit recovery job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:              logg,
		DB:                  dbClient,
		Events:              outboxRepo,
		DeadLetters:         outbox.NewDLQRepository(dbClient.DB()),
		PublishedRetention:  cfg.Outbox.PublishedRetention,
		DeadLetterRetention: cfg.Outbox.DeadLetterRetention,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	return []cron.Job{recoveryJob, retentionJob}, nil
}

func closeQuietly(ctx context.Context, logg *logger.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(logg.WithField(ctx, "resource", what), "close failed", err)
	}
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func splitJobs(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}
