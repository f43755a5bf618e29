package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
)

// CreditGrant is a package entitlement written by the subscription system. The
// policy columns are a snapshot of the plan at purchase time.
type CreditGrant struct {
	ID                  uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	UserID              uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index:idx_credit_grants_user_status,priority:1"`
	PlanCode            string                  `gorm:"column:plan_code;not null"`
	Status              enums.CreditGrantStatus `gorm:"column:status;type:text;not null;index:idx_credit_grants_user_status,priority:2"`
	CreditCap           int64                   `gorm:"column:credit_cap;not null"`
	RecoveryRatePerHour int64                   `gorm:"column:recovery_rate_per_hour;not null"`
	DailyUsageLimit     int64                   `gorm:"column:daily_usage_limit;not null"`
	ManualResetsPerDay  int                     `gorm:"column:manual_resets_per_day;not null"`
	StartsAt            time.Time               `gorm:"column:starts_at;not null"`
	ExpiresAt           *time.Time              `gorm:"column:expires_at"`
	OrderID             *string                 `gorm:"column:order_id;uniqueIndex:ux_credit_grants_order"`
	CreatedAt           time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (CreditGrant) TableName() string { return "credit_grants" }

func (g *CreditGrant) BeforeCreate(*gorm.DB) error { return ensureID(&g.ID) }
