package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/creditwallet-backend/api/routes"
	"github.com/angelmondragon/creditwallet-backend/internal/credits"
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

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
		Static:      map[string]string{"env": cfg.App.Env, "instance": instance.GetID()},
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := dbClient.RegisterPoolMetrics(prometheus.DefaultRegisterer, "creditwallet"); err != nil {
		logg.Warn(logg.WithField(context.Background(), "error", err.Error()), "database pool metrics not registered")
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}

	creditMetrics := metrics.NewCreditMetrics(prometheus.DefaultRegisterer)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), outboxService)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
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
		logg.Error(context.Background(), "failed to create credit service", err)
		os.Exit(1)
	}
	batch, err := credits.NewBatchRecoveryScheduler(grantRepo, creditService, creditMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create recovery scheduler", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithField(context.Background(), "addr", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, promhttp.Handler(), metrics.NewHTTPMetrics(prometheus.DefaultRegisterer), creditService, ledgerService, batch),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			closeAll(ctx, logg, dbClient, redisClient)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	err = multierr.Append(err, closeAll(ctx, logg, dbClient, redisClient))
	if err != nil {
		logg.Error(ctx, "api shutdown incomplete", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped gracefully")
}

type closer interface {
	Close() error
}

func closeAll(ctx context.Context, logg *logger.Logger, closers ...closer) error {
	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	if err != nil {
		logg.Error(ctx, "error closing dependencies", err)
	}
	return err
}
