package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
)

// CreditTransaction is an immutable ledger entry describing one wallet change.
type CreditTransaction struct {
	ID                      uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID                  uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;index:idx_credit_transactions_user_created,priority:1;uniqueIndex:ux_credit_transactions_request,priority:1" json:"user_id"`
	Type                    enums.CreditTransactionType `gorm:"column:type;type:text;not null;uniqueIndex:ux_credit_transactions_request,priority:2" json:"type"`
	Bucket                  enums.CreditBucket          `gorm:"column:bucket;type:text;not null" json:"bucket"`
	Points                  int64                       `gorm:"column:points;not null" json:"points"`
	BeforePackageTokens     int64                       `gorm:"column:before_package_tokens;not null" json:"before_package_tokens"`
	AfterPackageTokens      int64                       `gorm:"column:after_package_tokens;not null" json:"after_package_tokens"`
	BeforeIndependentTokens int64                       `gorm:"column:before_independent_tokens;not null" json:"before_independent_tokens"`
	AfterIndependentTokens  int64                       `gorm:"column:after_independent_tokens;not null" json:"after_independent_tokens"`
	Reason                  string                      `gorm:"column:reason;not null" json:"reason"`
	Metadata                datatypes.JSONMap           `gorm:"column:metadata" json:"metadata"`
	RequestID               *string                     `gorm:"column:request_id;uniqueIndex:ux_credit_transactions_request,priority:3" json:"request_id"`
	OrderID                 *string                     `gorm:"column:order_id;index:idx_credit_transactions_order" json:"order_id"`
	CreatedAt               time.Time                   `gorm:"column:created_at;not null;index:idx_credit_transactions_user_created,priority:2" json:"created_at"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (t *CreditTransaction) BeforeCreate(*gorm.DB) error { return ensureID(&t.ID) }
