package ledger

import (
	"context"
	"errors"

	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
	"github.com/angelmondragon/creditwallet-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository manages persistence for credit transactions. Rows are only ever
// inserted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.CreditTransaction) error
	FindByRequestID(ctx context.Context, userID uuid.UUID, txType enums.CreditTransactionType, requestID string) (*models.CreditTransaction, error)
	FindByOrderID(ctx context.Context, userID uuid.UUID, txType enums.CreditTransactionType, orderID string) (*models.CreditTransaction, error)
	ListByUser(ctx context.Context, params listParams) ([]models.CreditTransaction, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

type listParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.CreditTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByRequestID(ctx context.Context, userID uuid.UUID, txType enums.CreditTransactionType, requestID string) (*models.CreditTransaction, error) {
	return r.findOne(r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND request_id = ?", userID, txType, requestID))
}

func (r *repository) FindByOrderID(ctx context.Context, userID uuid.UUID, txType enums.CreditTransactionType, orderID string) (*models.CreditTransaction, error) {
	return r.findOne(r.db.WithContext(ctx).
		Where("user_id = ? AND type = ? AND order_id = ?", userID, txType, orderID).
		Order("created_at ASC"))
}

func (r *repository) findOne(query *gorm.DB) (*models.CreditTransaction, error) {
	var entry models.CreditTransaction
	if err := query.First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListByUser returns one page newest first. The returned cursor points at the
// last row of the page and is nil when no further rows exist.
func (r *repository) ListByUser(ctx context.Context, params listParams) ([]models.CreditTransaction, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.CreditTransaction{}).Where("user_id = ?", params.UserID)
	if params.Cursor != nil {
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var entries []models.CreditTransaction
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	page, next := pagination.Trim(entries, params.Limit, func(e models.CreditTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return page, next, nil
}
