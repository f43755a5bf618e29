package grants

import "github.com/angelmondragon/creditwallet-backend/pkg/db/models"

// Policy is the plan snapshot that governs a wallet's package bucket.
type Policy struct {
	CreditCap           int64 `json:"credit_cap" validate:"required,gt=0"`
	RecoveryRatePerHour int64 `json:"recovery_rate_per_hour" validate:"gte=0"`
	DailyUsageLimit     int64 `json:"daily_usage_limit" validate:"gte=0"`
	ManualResetsPerDay  int   `json:"manual_resets_per_day" validate:"gte=0"`
}

// SnapshotOf copies the policy columns off a grant. A nil grant yields nil.
func SnapshotOf(grant *models.CreditGrant) *Policy {
	if grant == nil {
		return nil
	}
	return &Policy{
		CreditCap:           grant.CreditCap,
		RecoveryRatePerHour: grant.RecoveryRatePerHour,
		DailyUsageLimit:     grant.DailyUsageLimit,
		ManualResetsPerDay:  grant.ManualResetsPerDay,
	}
}
