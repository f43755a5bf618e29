package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditwallet-backend/pkg/errors"
	"github.com/angelmondragon/creditwallet-backend/pkg/outbox"
	"github.com/angelmondragon/creditwallet-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/creditwallet-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service appends and reads credit transactions.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.CreditTransaction, error)
	FindByRequestID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, txType enums.CreditTransactionType, requestID string) (*models.CreditTransaction, error)
	FindByOrderID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, txType enums.CreditTransactionType, orderID string) (*models.CreditTransaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ListResult, error)
}

// EventEmitter queues integration events inside the caller's transaction.
type EventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Balances is a snapshot of both buckets.
type Balances struct {
	PackageTokens     int64 `json:"package_tokens"`
	IndependentTokens int64 `json:"independent_tokens"`
}

// RecordInput captures one wallet mutation.
type RecordInput struct {
	UserID    uuid.UUID
	Type      enums.CreditTransactionType
	Bucket    enums.CreditBucket
	Points    int64
	Before    Balances
	After     Balances
	Reason    string
	Metadata  map[string]any
	RequestID *string
	OrderID   *string
	CreatedAt time.Time
}

// ListResult is a page of transactions plus the cursor for the next page.
type ListResult struct {
	Items  []models.CreditTransaction `json:"items"`
	Cursor string                     `json:"cursor"`
}

type service struct {
	repo    Repository
	emitter EventEmitter
}

// NewService wires a ledger service with the provided repository and emitter.
func NewService(repo Repository, emitter EventEmitter) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("ledger event emitter required")
	}
	return &service{repo: repo, emitter: emitter}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.CreditTransaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if err := validateRecord(input); err != nil {
		return nil, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	entry := &models.CreditTransaction{
		UserID:                  input.UserID,
		Type:                    input.Type,
		Bucket:                  input.Bucket,
		Points:                  input.Points,
		BeforePackageTokens:     input.Before.PackageTokens,
		AfterPackageTokens:      input.After.PackageTokens,
		BeforeIndependentTokens: input.Before.IndependentTokens,
		AfterIndependentTokens:  input.After.IndependentTokens,
		Reason:                  input.Reason,
		RequestID:               input.RequestID,
		OrderID:                 input.OrderID,
		CreatedAt:               createdAt.UTC(),
	}
	if len(input.Metadata) > 0 {
		entry.Metadata = datatypes.JSONMap(input.Metadata)
	}

	if err := s.repo.WithTx(tx).Create(ctx, entry); err != nil {
		return nil, err
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventCreditTransactionRecorded,
		AggregateType: enums.AggregateCreditWallet,
		AggregateID:   entry.UserID,
		OccurredAt:    entry.CreatedAt,
		Data: payloads.CreditTransactionRecordedEvent{
			TransactionID:           entry.ID,
			UserID:                  entry.UserID,
			Type:                    entry.Type,
			Bucket:                  entry.Bucket,
			Points:                  entry.Points,
			BeforePackageTokens:     entry.BeforePackageTokens,
			AfterPackageTokens:      entry.AfterPackageTokens,
			BeforeIndependentTokens: entry.BeforeIndependentTokens,
			AfterIndependentTokens:  entry.AfterIndependentTokens,
			Reason:                  entry.Reason,
			RequestID:               entry.RequestID,
			OrderID:                 entry.OrderID,
			CreatedAt:               entry.CreatedAt,
		},
	}
	if err := s.emitter.Emit(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("emit transaction event: %w", err)
	}
	return entry, nil
}

func validateRecord(input RecordInput) error {
	if input.UserID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if !input.Type.IsValid() {
		return fmt.Errorf("invalid credit transaction type %q", input.Type)
	}
	if !input.Bucket.IsValid() {
		return fmt.Errorf("invalid credit bucket %q", input.Bucket)
	}
	if input.Points <= 0 {
		return fmt.Errorf("points must be positive")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return fmt.Errorf("reason is required")
	}
	if input.Before.PackageTokens < 0 || input.After.PackageTokens < 0 ||
		input.Before.IndependentTokens < 0 || input.After.IndependentTokens < 0 {
		return fmt.Errorf("balances must not be negative")
	}
	return nil
}

func (s *service) FindByRequestID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, txType enums.CreditTransactionType, requestID string) (*models.CreditTransaction, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, nil
	}
	return s.repo.WithTx(tx).FindByRequestID(ctx, userID, txType, requestID)
}

func (s *service) FindByOrderID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, txType enums.CreditTransactionType, orderID string) (*models.CreditTransaction, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, nil
	}
	return s.repo.WithTx(tx).FindByOrderID(ctx, userID, txType, orderID)
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ListResult, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	items, next, err := s.repo.ListByUser(ctx, listParams{
		UserID: userID,
		Limit:  params.Limit,
		Cursor: cursor,
	})
	if err != nil {
		return nil, err
	}
	result := &ListResult{Items: items}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}
