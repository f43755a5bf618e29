package credits

import (
	"time"

	"github.com/angelmondragon/creditwallet-backend/internal/grants"
	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
)

// ManualResetPlan is the decision for one manual reset attempt.
type ManualResetPlan struct {
	Failure              enums.CreditFailure
	ResetAmount          int64
	NewBalance           int64
	ResetsRemainingToday int
	NextAvailableAtUTC   *time.Time
}

// OK reports whether the reset can be applied.
func (p ManualResetPlan) OK() bool {
	return p.Failure == enums.CreditFailureNone
}

// PlanManualReset decides whether wallet may be topped up to the policy cap at
// now. The daily allowance rolls over at UTC midnight based on ManualResetAt.
func PlanManualReset(wallet models.CreditWallet, policy *grants.Policy, now time.Time) ManualResetPlan {
	if policy == nil {
		return ManualResetPlan{Failure: enums.CreditFailureNoActivePackage, NewBalance: wallet.PackageTokensRemaining}
	}

	used := resetsUsedToday(wallet, now)
	if used >= policy.ManualResetsPerDay {
		next := nextUTCMidnight(now)
		return ManualResetPlan{
			Failure:            enums.CreditFailureLimitReached,
			NewBalance:         wallet.PackageTokensRemaining,
			NextAvailableAtUTC: &next,
		}
	}

	remaining := policy.ManualResetsPerDay - used
	if wallet.PackageTokensRemaining >= policy.CreditCap {
		return ManualResetPlan{
			Failure:              enums.CreditFailureAlreadyAtCap,
			NewBalance:           wallet.PackageTokensRemaining,
			ResetsRemainingToday: remaining,
		}
	}

	plan := ManualResetPlan{
		ResetAmount:          policy.CreditCap - wallet.PackageTokensRemaining,
		NewBalance:           policy.CreditCap,
		ResetsRemainingToday: remaining - 1,
	}
	if plan.ResetsRemainingToday == 0 {
		next := nextUTCMidnight(now)
		plan.NextAvailableAtUTC = &next
	}
	return plan
}

// applyManualReset mutates wallet according to an OK plan.
func applyManualReset(wallet *models.CreditWallet, plan ManualResetPlan, now time.Time) {
	used := resetsUsedToday(*wallet, now)
	at := now.UTC()
	wallet.PackageTokensRemaining = plan.NewBalance
	wallet.ManualResetCount = used + 1
	wallet.ManualResetAt = &at
}

func resetsUsedToday(wallet models.CreditWallet, now time.Time) int {
	if wallet.ManualResetAt == nil || !sameUTCDay(*wallet.ManualResetAt, now) {
		return 0
	}
	return wallet.ManualResetCount
}
