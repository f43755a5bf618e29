package credits

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditwallet-backend/internal/grants"
	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
)

// ConsumeInput describes one deduction request.
type ConsumeInput struct {
	UserID    uuid.UUID
	Amount    int64
	Service   string
	Metadata  map[string]any
	RequestID string
	Now       time.Time
}

// ConsumeResult reports either the applied deduction or the failure code.
type ConsumeResult struct {
	Success            bool                      `json:"success"`
	Failure            enums.CreditFailure       `json:"error,omitempty"`
	Replayed           bool                      `json:"replayed,omitempty"`
	PackageUsed        int64                     `json:"package_used"`
	IndependentUsed    int64                     `json:"independent_used"`
	PackageBalance     int64                     `json:"package_balance"`
	IndependentBalance int64                     `json:"independent_balance"`
	RemainingToday     *int64                    `json:"remaining_today,omitempty"`
	Transaction        *models.CreditTransaction `json:"transaction,omitempty"`
}

// RecoverResult reports a recovery pass for one wallet.
type RecoverResult struct {
	Success     bool                      `json:"success"`
	Failure     enums.CreditFailure       `json:"error,omitempty"`
	Recovered   int64                     `json:"recovered"`
	NewBalance  int64                     `json:"new_balance"`
	Transaction *models.CreditTransaction `json:"transaction,omitempty"`
}

// ManualResetResult reports a manual reset attempt.
type ManualResetResult struct {
	Success              bool                      `json:"success"`
	Failure              enums.CreditFailure       `json:"error,omitempty"`
	ResetAmount          int64                     `json:"reset_amount"`
	NewBalance           int64                     `json:"new_balance"`
	ResetsRemainingToday int                       `json:"resets_remaining_today"`
	NextAvailableAtUTC   *time.Time                `json:"next_available_at_utc,omitempty"`
	Transaction          *models.CreditTransaction `json:"transaction,omitempty"`
}

// GrantPackageInput is written by the subscription system on purchase or
// renewal.
type GrantPackageInput struct {
	UserID    uuid.UUID
	PlanCode  string
	OrderID   string
	Policy    grants.Policy
	StartsAt  time.Time
	ExpiresAt *time.Time
	Now       time.Time
}

// GrantPackageResult reports the grant and the refilled package bucket.
type GrantPackageResult struct {
	Success        bool                      `json:"success"`
	Replayed       bool                      `json:"replayed,omitempty"`
	GrantID        uuid.UUID                 `json:"grant_id"`
	Granted        int64                     `json:"granted"`
	Revoked        int64                     `json:"revoked,omitempty"`
	PackageBalance int64                     `json:"package_balance"`
	Transaction    *models.CreditTransaction `json:"transaction,omitempty"`
}

// AddIndependentInput credits the uncapped bucket.
type AddIndependentInput struct {
	UserID   uuid.UUID
	Points   int64
	OrderID  string
	Reason   string
	Metadata map[string]any
	Now      time.Time
}

// RefundInput clears the package bucket funded by a grant.
type RefundInput struct {
	OrderID string
	Now     time.Time
}

// RefundResult reports a refund.
type RefundResult struct {
	Success        bool                      `json:"success"`
	Failure        enums.CreditFailure       `json:"error,omitempty"`
	Replayed       bool                      `json:"replayed,omitempty"`
	GrantID        uuid.UUID                 `json:"grant_id"`
	ClearedPoints  int64                     `json:"cleared_points"`
	PackageBalance int64                     `json:"package_balance"`
	Transaction    *models.CreditTransaction `json:"transaction,omitempty"`
}

// BalanceChangeResult reports a single-bucket income.
type BalanceChangeResult struct {
	Success            bool                      `json:"success"`
	Failure            enums.CreditFailure       `json:"error,omitempty"`
	Replayed           bool                      `json:"replayed,omitempty"`
	PackageBalance     int64                     `json:"package_balance"`
	IndependentBalance int64                     `json:"independent_balance"`
	Transaction        *models.CreditTransaction `json:"transaction,omitempty"`
}

// BalanceView is a read-only projection of a wallet at a point in time.
type BalanceView struct {
	UserID               uuid.UUID      `json:"user_id"`
	PackageTokens        int64          `json:"package_tokens"`
	IndependentTokens    int64          `json:"independent_tokens"`
	DailyUsageCount      int64          `json:"daily_usage_count"`
	RemainingToday       *int64         `json:"remaining_today,omitempty"`
	ResetsRemainingToday *int           `json:"resets_remaining_today,omitempty"`
	PendingRecovery      int64          `json:"pending_recovery"`
	Policy               *grants.Policy `json:"policy,omitempty"`
	Version              int64          `json:"version"`
	AsOf                 time.Time      `json:"as_of"`
}
