package credits

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/creditwallet-backend/internal/grants"
)

var nanosPerHour = decimal.NewFromInt(int64(time.Hour))

// Recovery is the outcome of a recovery calculation. Recovered is zero when
// the wallet must be left untouched.
type Recovery struct {
	Recovered  int64
	NewBalance int64
}

// CalculateRecovery accrues policy.RecoveryRatePerHour for every elapsed
// fraction of an hour since lastRecoveryAt, floored to a whole credit and
// clipped to the policy cap.
func CalculateRecovery(current int64, policy grants.Policy, lastRecoveryAt, now time.Time) Recovery {
	unchanged := Recovery{NewBalance: current}
	elapsed := now.Sub(lastRecoveryAt)
	if elapsed <= 0 || policy.RecoveryRatePerHour <= 0 || policy.CreditCap <= 0 {
		return unchanged
	}

	earned, _ := decimal.NewFromInt(policy.RecoveryRatePerHour).
		Mul(decimal.NewFromInt(int64(elapsed))).
		QuoRem(nanosPerHour, 0)
	capacity := decimal.NewFromInt(policy.CreditCap)
	if earned.GreaterThan(capacity) {
		earned = capacity
	}

	newBalance := current + earned.IntPart()
	if newBalance > policy.CreditCap {
		newBalance = policy.CreditCap
	}
	recovered := newBalance - current
	if recovered <= 0 {
		return unchanged
	}
	return Recovery{Recovered: recovered, NewBalance: newBalance}
}

func startOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nextUTCMidnight(t time.Time) time.Time {
	return startOfUTCDay(t).AddDate(0, 0, 1)
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
