package credits

import (
	"time"

	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditwallet-backend/pkg/errors"
)

var failureCodes = map[enums.CreditFailure]pkgerrors.Code{
	enums.CreditFailureNoActivePackage:   pkgerrors.CodeNoActivePackage,
	enums.CreditFailureAlreadyAtCap:      pkgerrors.CodeAlreadyAtCap,
	enums.CreditFailureLimitReached:      pkgerrors.CodeLimitReached,
	enums.CreditFailureDailyLimitReached: pkgerrors.CodeDailyLimitReached,
	enums.CreditFailureInsufficient:      pkgerrors.CodeInsufficientCredit,
	enums.CreditFailureConflict:          pkgerrors.CodeConflict,
	enums.CreditFailureWalletNotFound:    pkgerrors.CodeWalletNotFound,
}

var failureMessages = map[enums.CreditFailure]string{
	enums.CreditFailureNoActivePackage:   "no active credit package",
	enums.CreditFailureAlreadyAtCap:      "package credits already at cap",
	enums.CreditFailureLimitReached:      "manual reset limit reached for today",
	enums.CreditFailureDailyLimitReached: "daily usage limit reached",
	enums.CreditFailureInsufficient:      "insufficient credits",
	enums.CreditFailureConflict:          "wallet was modified concurrently, retry",
	enums.CreditFailureWalletNotFound:    "credit wallet not found",
}

// failureDetails carries the optional hints a client needs to retry later.
type failureDetails struct {
	RemainingToday       *int64
	ResetsRemainingToday *int
	NextAvailableAtUTC   *time.Time
}

// failureError renders a typed engine outcome as an API error.
func failureError(failure enums.CreditFailure, d failureDetails) *pkgerrors.Error {
	code, ok := failureCodes[failure]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeInternal, "unknown credit outcome")
	}
	err := pkgerrors.New(code, failureMessages[failure])
	details := map[string]any{}
	if d.RemainingToday != nil {
		details["remaining_today"] = *d.RemainingToday
	}
	if d.ResetsRemainingToday != nil {
		details["resets_remaining_today"] = *d.ResetsRemainingToday
	}
	if d.NextAvailableAtUTC != nil {
		details["next_available_at_utc"] = d.NextAvailableAtUTC.UTC().Format(time.RFC3339)
	}
	if len(details) > 0 {
		err = err.WithDetails(details)
	}
	return err
}
