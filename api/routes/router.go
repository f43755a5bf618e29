package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/creditwallet-backend/api/controllers"
	creditcontrollers "github.com/angelmondragon/creditwallet-backend/api/controllers/credits"
	"github.com/angelmondragon/creditwallet-backend/api/middleware"
	"github.com/angelmondragon/creditwallet-backend/internal/credits"
	"github.com/angelmondragon/creditwallet-backend/internal/ledger"
	"github.com/angelmondragon/creditwallet-backend/pkg/config"
	"github.com/angelmondragon/creditwallet-backend/pkg/db"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
	"github.com/angelmondragon/creditwallet-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/creditwallet-backend/pkg/redis"
)

// redisStore is the slice of the redis client the HTTP layer needs.
type redisStore interface {
	pkgredis.IdempotencyStore
	Ping(ctx context.Context) error
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (pkgredis.Window, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisStore,
	metricsHandler http.Handler,
	httpMetrics *metrics.HTTPMetrics,
	creditService credits.Service,
	ledgerService ledger.Service,
	recoveryBatch creditcontrollers.BatchRunner,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	replay := middleware.NewReplayer(redisClient, cfg.Credits.IdempotencyReplayTTL, logg)
	optionalKey := replay.Idempotent(middleware.OptionalKey)
	requiredKey := replay.Idempotent(middleware.RequiredKey)

	consumePolicy := middleware.NewRateLimitPolicy("consume", cfg.RateLimit.ConsumeLimit, cfg.RateLimit.ConsumeWindow)
	batchDefaults := creditcontrollers.BatchDefaults{
		PageSize:    cfg.Credits.RecoveryPageSize,
		Concurrency: cfg.Credits.RecoveryConcurrency,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisClient,
		}))
	})
	r.Handle("/metrics", metricsHandler)

	r.Route("/api/v1/credits", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/balance", creditcontrollers.Balance(creditService, logg))
		r.Get("/transactions", creditcontrollers.Transactions(ledgerService, logg))
		r.With(middleware.RateLimit(consumePolicy, redisClient, logg), optionalKey).Post("/consume", creditcontrollers.Consume(creditService, logg))
		r.With(optionalKey).Post("/manual-reset", creditcontrollers.ManualReset(creditService, logg))
	})

	r.Route("/api/admin/v1/credits", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin, enums.ActorRoleService))

		r.With(requiredKey).Post("/refund", creditcontrollers.AdminRefund(creditService, logg))
		r.With(optionalKey).Post("/recovery-batch", creditcontrollers.AdminRecoveryBatch(recoveryBatch, batchDefaults, logg))
		r.Route("/{userId}", func(r chi.Router) {
			r.Get("/balance", creditcontrollers.AdminBalance(creditService, logg))
			r.With(requiredKey).Post("/grant", creditcontrollers.AdminGrantPackage(creditService, logg))
			r.With(requiredKey).Post("/independent", creditcontrollers.AdminAddIndependent(creditService, logg))
			r.With(optionalKey).Post("/recover", creditcontrollers.AdminRecover(creditService, logg))
		})
	})

	return r
}
