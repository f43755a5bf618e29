package credits

import (
	"time"

	"github.com/angelmondragon/creditwallet-backend/internal/grants"
	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
)

// ConsumptionPlan splits a deduction across the two buckets, or names the
// reason it cannot be made.
type ConsumptionPlan struct {
	Failure            enums.CreditFailure
	PackagePortion     int64
	IndependentPortion int64
	// RemainingToday is set whenever a policy governs the wallet.
	RemainingToday *int64
}

// OK reports whether the deduction can be applied.
func (p ConsumptionPlan) OK() bool {
	return p.Failure == enums.CreditFailureNone
}

// PlanConsumption decides how amount is taken from wallet at now. The package
// bucket is preferred, clipped by what is left of the daily quota when a policy
// is active; the independent bucket covers the rest and never counts against
// the quota.
func PlanConsumption(wallet models.CreditWallet, policy *grants.Policy, amount int64, now time.Time) ConsumptionPlan {
	packageAvailable := wallet.PackageTokensRemaining
	var remainingToday *int64
	if policy != nil {
		remaining := policy.DailyUsageLimit - usageToday(wallet, now)
		if remaining < 0 {
			remaining = 0
		}
		remainingToday = &remaining
		if remaining < packageAvailable {
			packageAvailable = remaining
		}
	}

	if wallet.PackageTokensRemaining+wallet.IndependentTokens < amount {
		return ConsumptionPlan{Failure: enums.CreditFailureInsufficient, RemainingToday: remainingToday}
	}
	if amount <= packageAvailable {
		return ConsumptionPlan{PackagePortion: amount, RemainingToday: remainingToday}
	}

	independentPortion := amount - packageAvailable
	if independentPortion > wallet.IndependentTokens {
		// total funds suffice, so the shortfall comes from the quota clip
		return ConsumptionPlan{Failure: enums.CreditFailureDailyLimitReached, RemainingToday: remainingToday}
	}
	return ConsumptionPlan{
		PackagePortion:     packageAvailable,
		IndependentPortion: independentPortion,
		RemainingToday:     remainingToday,
	}
}

// applyConsumption mutates wallet according to an OK plan.
func applyConsumption(wallet *models.CreditWallet, policy *grants.Policy, plan ConsumptionPlan, now time.Time) {
	rollDailyWindow(wallet, now)
	wallet.PackageTokensRemaining -= plan.PackagePortion
	wallet.IndependentTokens -= plan.IndependentPortion
	if policy != nil {
		wallet.DailyUsageCount += plan.PackagePortion
	}
}

func usageToday(wallet models.CreditWallet, now time.Time) int64 {
	if !sameUTCDay(wallet.DailyUsageResetAt, now) {
		return 0
	}
	return wallet.DailyUsageCount
}

func rollDailyWindow(wallet *models.CreditWallet, now time.Time) {
	if sameUTCDay(wallet.DailyUsageResetAt, now) {
		return
	}
	wallet.DailyUsageCount = 0
	wallet.DailyUsageResetAt = startOfUTCDay(now)
}
