package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditWallet holds the mutable balance state of one user. Version is the
// only concurrency-control field: every successful mutation bumps it.
type CreditWallet struct {
	UserID                 uuid.UUID  `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	PackageTokensRemaining int64      `gorm:"column:package_tokens_remaining;not null;default:0" json:"package_tokens_remaining"`
	IndependentTokens      int64      `gorm:"column:independent_tokens;not null;default:0" json:"independent_tokens"`
	DailyUsageCount        int64      `gorm:"column:daily_usage_count;not null;default:0" json:"daily_usage_count"`
	DailyUsageResetAt      time.Time  `gorm:"column:daily_usage_reset_at;not null" json:"daily_usage_reset_at"`
	ManualResetCount       int        `gorm:"column:manual_reset_count;not null;default:0" json:"manual_reset_count"`
	ManualResetAt          *time.Time `gorm:"column:manual_reset_at" json:"manual_reset_at"`
	LastRecoveryAt         time.Time  `gorm:"column:last_recovery_at;not null" json:"last_recovery_at"`
	Version                int64      `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt              time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CreditWallet) TableName() string { return "credit_wallets" }
