package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
)

// ErrDeadLetterNotFound is returned by Requeue for an unknown event id.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

// DLQRepository stores outbox rows the publisher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records entry once per event; a second insert for the same event
// is ignored.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTxRequired
	}
	if entry.ErrorMessage != nil {
		entry.ErrorMessage = clip(*entry.ErrorMessage)
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).Create(&entry).Error
}

// FindByEventID returns nil, nil when the event was never dead-lettered.
// A nil tx reads outside any transaction.
func (r *DLQRepository) FindByEventID(tx *gorm.DB, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	if tx == nil {
		tx = r.db
	}
	var entry models.OutboxDLQ
	switch err := tx.Where("event_id = ?", eventID).Take(&entry).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &entry, nil
}

// PurgeBefore removes dead letters recorded before cutoff.
func (r *DLQRepository) PurgeBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, errTxRequired
	}
	res := tx.Where("failed_at < ?", cutoff).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}

// Requeue hands a dead-lettered event back to the publisher: the outbox row's
// attempts and error are cleared and the dead letter is removed. The row must
// still exist; a purged row cannot be replayed.
func (r *DLQRepository) Requeue(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dlq, err := r.FindByEventID(tx, eventID)
		if err != nil {
			return err
		}
		if dlq == nil {
			return fmt.Errorf("%w: %s", ErrDeadLetterNotFound, eventID)
		}
		res := tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND published_at IS NULL", eventID).
			Updates(map[string]any{"attempt_count": 0, "last_error": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("outbox row %s is gone or already published", eventID)
		}
		return tx.Delete(&models.OutboxDLQ{}, "id = ?", dlq.ID).Error
	})
}
