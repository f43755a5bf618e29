package credits

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditwallet-backend/api/middleware"
	"github.com/angelmondragon/creditwallet-backend/api/responses"
	"github.com/angelmondragon/creditwallet-backend/api/validators"
	creditsvc "github.com/angelmondragon/creditwallet-backend/internal/credits"
	"github.com/angelmondragon/creditwallet-backend/internal/ledger"
	pkgerrors "github.com/angelmondragon/creditwallet-backend/pkg/errors"
	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
)

var errUnavailable = pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable")

type consumeRequest struct {
	Amount    int64          `json:"amount" validate:"gt=0"`
	Service   string         `json:"service" validate:"required,max=64,code"`
	Metadata  map[string]any `json:"metadata"`
	RequestID string         `json:"request_id" validate:"max=128"`
}

func callerID(r *http.Request) (uuid.UUID, error) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return caller.UserID, nil
}

// Balance returns the caller's wallet with pending recovery projected.
func Balance(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errUnavailable)
			return
		}
		userID, err := callerID(r)
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

// Transactions pages through the caller's ledger, newest first.
func Transactions(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errUnavailable)
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListTransactions(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Consume deducts credits for a metered service call. The Idempotency-Key
// header stands in for request_id when the body omits it.
func Consume(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errUnavailable)
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body consumeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		requestID := strings.TrimSpace(body.RequestID)
		if requestID == "" {
			requestID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		}

		result, err := svc.Consume(r.Context(), creditsvc.ConsumeInput{
			UserID:    userID,
			Amount:    body.Amount,
			Service:   validators.SanitizeString(body.Service, 64),
			Metadata:  body.Metadata,
			RequestID: requestID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.Success {
			responses.WriteError(r.Context(), logg, w, failureError(result.Failure, failureDetails{RemainingToday: result.RemainingToday}))
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ManualReset refills the caller's package bucket to cap.
func ManualReset(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errUnavailable)
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.ManualReset(r.Context(), userID, time.Time{})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.Success {
			resets := result.ResetsRemainingToday
			responses.WriteError(r.Context(), logg, w, failureError(result.Failure, failureDetails{
				ResetsRemainingToday: &resets,
				NextAvailableAtUTC:   result.NextAvailableAtUTC,
			}))
			return
		}
		responses.WriteSuccess(w, result)
	}
}
