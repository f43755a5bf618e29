package credits

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/creditwallet-backend/api/responses"
	"github.com/angelmondragon/creditwallet-backend/api/validators"
	creditsvc "github.com/angelmondragon/creditwallet-backend/internal/credits"
	"github.com/angelmondragon/creditwallet-backend/internal/grants"
	pkgerrors "github.com/angelmondragon/creditwallet-backend/pkg/errors"
	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
)

type grantPackageRequest struct {
	PlanCode            string     `json:"plan_code" validate:"required,max=64,code"`
	OrderID             string     `json:"order_id" validate:"required,notblank,max=128"`
	CreditCap           int64      `json:"credit_cap" validate:"gt=0"`
	RecoveryRatePerHour int64      `json:"recovery_rate_per_hour" validate:"gte=0"`
	DailyUsageLimit     int64      `json:"daily_usage_limit" validate:"gte=0"`
	ManualResetsPerDay  int        `json:"manual_resets_per_day" validate:"gte=0"`
	StartsAt            *time.Time `json:"starts_at,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

type addIndependentRequest struct {
	Points   int64          `json:"points" validate:"gt=0"`
	OrderID  string         `json:"order_id" validate:"required,notblank,max=128"`
	Reason   string         `json:"reason" validate:"max=255"`
	Metadata map[string]any `json:"metadata"`
}

type refundRequest struct {
	OrderID string `json:"order_id" validate:"required,notblank,max=128"`
}

type recoveryBatchRequest struct {
	PageSize    int `json:"page_size" validate:"gte=0,lte=1000"`
	Concurrency int `json:"concurrency" validate:"gte=0,lte=64"`
}

// BatchRunner runs one recovery sweep across every active wallet.
type BatchRunner interface {
	Run(ctx context.Context, now time.Time, pageSize, concurrency int) (creditsvc.BatchSummary, error)
}

// BatchDefaults apply when the request leaves a batch knob at zero.
type BatchDefaults struct {
	PageSize    int
	Concurrency int
}

// AdminBalance returns any user's wallet projection.
func AdminBalance(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errUnavailable)
			return
		}
		userID, err := validators.ParseUUIDParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Balance(r.Context(), userID, time.Time{})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// AdminGrantPackage records a subscription purchase or renewal.
func AdminGrantPackage(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errUnavailable)
			return
		}
		userID, err := validators.ParseUUIDParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body grantPackageRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.StartsAt != nil && body.ExpiresAt != nil && !body.ExpiresAt.After(*body.StartsAt) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be after starts_at"))
			return
		}

		input := creditsvc.GrantPackageInput{
			UserID:   userID,
			PlanCode: strings.TrimSpace(body.PlanCode),
			OrderID:  strings.TrimSpace(body.OrderID),
			Policy: grants.Policy{
				CreditCap:           body.CreditCap,
				RecoveryRatePerHour: body.RecoveryRatePerHour,
				DailyUsageLimit:     body.DailyUsageLimit,
				ManualResetsPerDay:  body.ManualResetsPerDay,
			},
			ExpiresAt: body.ExpiresAt,
		}
		if body.StartsAt != nil {
			input.StartsAt = body.StartsAt.UTC()
		}

		result, err := svc.GrantPackage(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

// AdminAddIndependent credits the uncapped bucket.
func AdminAddIndependent(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errUnavailable)
			return
		}
		userID, err := validators.ParseUUIDParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body addIndependentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.AddIndependent(r.Context(), creditsvc.AddIndependentInput{
			UserID:   userID,
			Points:   body.Points,
			OrderID:  strings.TrimSpace(body.OrderID),
			Reason:   validators.SanitizeString(body.Reason, 255),
			Metadata: body.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.Success {
			responses.WriteError(r.Context(), logg, w, failureError(result.Failure, failureDetails{}))
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminRefund clears the package bucket funded by an order.
func AdminRefund(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errUnavailable)
			return
		}
		var body refundRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Refund(r.Context(), creditsvc.RefundInput{OrderID: strings.TrimSpace(body.OrderID)})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.Success {
			responses.WriteError(r.Context(), logg, w, failureError(result.Failure, failureDetails{}))
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminRecover applies pending time-based recovery for one user.
func AdminRecover(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errUnavailable)
			return
		}
		userID, err := validators.ParseUUIDParam(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Recover(r.Context(), userID, time.Time{})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.Success {
			responses.WriteError(r.Context(), logg, w, failureError(result.Failure, failureDetails{}))
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminRecoveryBatch triggers a recovery sweep synchronously and returns its
// summary. Per-user failures are counted, not surfaced as an error.
func AdminRecoveryBatch(batch BatchRunner, defaults BatchDefaults, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if batch == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "recovery batch unavailable"))
			return
		}
		var body recoveryBatchRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		pageSize := body.PageSize
		if pageSize == 0 {
			pageSize = defaults.PageSize
		}
		concurrency := body.Concurrency
		if concurrency == 0 {
			concurrency = defaults.Concurrency
		}

		summary, err := batch.Run(r.Context(), time.Now().UTC(), pageSize, concurrency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
