package enums

// CreditFailure is the typed outcome code returned by wallet operations that
// did not apply. These are business results, not infrastructure errors.
type CreditFailure string

const (
	CreditFailureNone              CreditFailure = ""
	CreditFailureNoActivePackage   CreditFailure = "NO_ACTIVE_PACKAGE"
	CreditFailureAlreadyAtCap      CreditFailure = "ALREADY_AT_CAP"
	CreditFailureLimitReached      CreditFailure = "LIMIT_REACHED"
	CreditFailureDailyLimitReached CreditFailure = "DAILY_LIMIT_REACHED"
	CreditFailureInsufficient      CreditFailure = "INSUFFICIENT_CREDITS"
	CreditFailureConflict          CreditFailure = "CONFLICT"
	CreditFailureWalletNotFound    CreditFailure = "WALLET_NOT_FOUND"
)

var validCreditFailures = []CreditFailure{
	CreditFailureNoActivePackage,
	CreditFailureAlreadyAtCap,
	CreditFailureLimitReached,
	CreditFailureDailyLimitReached,
	CreditFailureInsufficient,
	CreditFailureConflict,
	CreditFailureWalletNotFound,
}

func (f CreditFailure) IsValid() bool {
	for _, candidate := range validCreditFailures {
		if candidate == f {
			return true
		}
	}
	return false
}
