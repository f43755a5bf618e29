package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
)

// CreditTransactionRecordedEvent mirrors one committed ledger entry.
type CreditTransactionRecordedEvent struct {
	TransactionID           uuid.UUID                   `json:"transaction_id"`
	UserID                  uuid.UUID                   `json:"user_id"`
	Type                    enums.CreditTransactionType `json:"type"`
	Bucket                  enums.CreditBucket          `json:"bucket"`
	Points                  int64                       `json:"points"`
	BeforePackageTokens     int64                       `json:"before_package_tokens"`
	AfterPackageTokens      int64                       `json:"after_package_tokens"`
	BeforeIndependentTokens int64                       `json:"before_independent_tokens"`
	AfterIndependentTokens  int64                       `json:"after_independent_tokens"`
	Reason                  string                      `json:"reason"`
	RequestID               *string                     `json:"request_id,omitempty"`
	OrderID                 *string                     `json:"order_id,omitempty"`
	CreatedAt               time.Time                   `json:"created_at"`
}

// CreditPackageGrantedEvent is emitted when a subscription grant fills the
// package bucket.
type CreditPackageGrantedEvent struct {
	GrantID             uuid.UUID  `json:"grant_id"`
	UserID              uuid.UUID  `json:"user_id"`
	PlanCode            string     `json:"plan_code"`
	OrderID             *string    `json:"order_id,omitempty"`
	CreditCap           int64      `json:"credit_cap"`
	RecoveryRatePerHour int64      `json:"recovery_rate_per_hour"`
	DailyUsageLimit     int64      `json:"daily_usage_limit"`
	ManualResetsPerDay  int        `json:"manual_resets_per_day"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
}

// CreditPackageRefundedEvent is emitted when a refunded grant clears the
// package bucket.
type CreditPackageRefundedEvent struct {
	GrantID       uuid.UUID `json:"grant_id"`
	UserID        uuid.UUID `json:"user_id"`
	OrderID       *string   `json:"order_id,omitempty"`
	ClearedPoints int64     `json:"cleared_points"`
}
