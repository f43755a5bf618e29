package grants

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
)

// Repository reads and writes package grants.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, grant *models.CreditGrant) error
	FindActive(ctx context.Context, userID uuid.UUID, now time.Time) (*models.CreditGrant, error)
	FindByOrderID(ctx context.Context, orderID string) (*models.CreditGrant, error)
	UpdateStatus(ctx context.Context, grantID uuid.UUID, status enums.CreditGrantStatus) error
	ListActiveUserIDs(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a grant repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, grant *models.CreditGrant) error {
	if grant == nil {
		return errors.New("grant is required")
	}
	return r.db.WithContext(ctx).Create(grant).Error
}

// FindActive returns the newest grant in force at now, or nil when the user has
// no active package.
func (r *repository) FindActive(ctx context.Context, userID uuid.UUID, now time.Time) (*models.CreditGrant, error) {
	var grant models.CreditGrant
	err := r.activeScope(r.db.WithContext(ctx), now).
		Where("user_id = ?", userID).
		Order("starts_at DESC").
		Order("created_at DESC").
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID string) (*models.CreditGrant, error) {
	var grant models.CreditGrant
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *repository) UpdateStatus(ctx context.Context, grantID uuid.UUID, status enums.CreditGrantStatus) error {
	if !status.IsValid() {
		return errors.New("invalid grant status")
	}
	return r.db.WithContext(ctx).
		Model(&models.CreditGrant{}).
		Where("id = ?", grantID).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		}).Error
}

// ListActiveUserIDs pages through users holding an active grant, ordered by
// user id. Pass uuid.Nil to start from the beginning.
func (r *repository) ListActiveUserIDs(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	var ids []uuid.UUID
	query := r.activeScope(r.db.WithContext(ctx).Model(&models.CreditGrant{}), now)
	if after != uuid.Nil {
		query = query.Where("user_id > ?", after)
	}
	err := query.
		Distinct("user_id").
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) activeScope(db *gorm.DB, now time.Time) *gorm.DB {
	return db.
		Where("status = ?", enums.CreditGrantActive).
		Where("starts_at <= ?", now).
		Where("expires_at IS NULL OR expires_at > ?", now)
}
