package wallets

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
)

// Repository persists credit wallets. Writes are guarded by the version column.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.CreditWallet, error)
	Create(ctx context.Context, wallet *models.CreditWallet) error
	UpdateWithVersion(ctx context.Context, wallet *models.CreditWallet, expectedVersion int64) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByUserID returns nil, nil when the user has no wallet.
func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.CreditWallet, error) {
	var wallet models.CreditWallet
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) Create(ctx context.Context, wallet *models.CreditWallet) error {
	if wallet == nil {
		return errors.New("wallet is required")
	}
	return r.db.WithContext(ctx).Create(wallet).Error
}

// UpdateWithVersion writes every mutable column and bumps version, but only if
// the stored version still equals expectedVersion. It reports false when
// another writer committed first.
func (r *repository) UpdateWithVersion(ctx context.Context, wallet *models.CreditWallet, expectedVersion int64) (bool, error) {
	if wallet == nil {
		return false, errors.New("wallet is required")
	}
	result := r.db.WithContext(ctx).
		Model(&models.CreditWallet{}).
		Where("user_id = ? AND version = ?", wallet.UserID, expectedVersion).
		Updates(map[string]any{
			"package_tokens_remaining": wallet.PackageTokensRemaining,
			"independent_tokens":       wallet.IndependentTokens,
			"daily_usage_count":        wallet.DailyUsageCount,
			"daily_usage_reset_at":     wallet.DailyUsageResetAt,
			"manual_reset_count":       wallet.ManualResetCount,
			"manual_reset_at":          wallet.ManualResetAt,
			"last_recovery_at":         wallet.LastRecoveryAt,
			"version":                  expectedVersion + 1,
			"updated_at":               time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	wallet.Version = expectedVersion + 1
	return true, nil
}
