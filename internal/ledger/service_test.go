package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditwallet-backend/pkg/errors"
	"github.com/angelmondragon/creditwallet-backend/pkg/outbox"
	"github.com/angelmondragon/creditwallet-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/creditwallet-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingEmitter struct {
	events []outbox.DomainEvent
	err    error
}

func (e *recordingEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, event)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.CreditTransaction{}))
	return conn
}

func validInput(userID uuid.UUID) RecordInput {
	return RecordInput{
		UserID:    userID,
		Type:      enums.CreditTransactionExpense,
		Bucket:    enums.CreditBucketPackage,
		Points:    900,
		Before:    Balances{PackageTokens: 6000, IndependentTokens: 1000},
		After:     Balances{PackageTokens: 5500, IndependentTokens: 600},
		Reason:    "service-consumption:chat",
		Metadata:  map[string]any{"model": "large"},
		CreatedAt: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestRecordPersistsEntryAndEmitsEvent(t *testing.T) {
	conn := openTestDB(t)
	emitter := &recordingEmitter{}
	svc, err := NewService(NewRepository(conn), emitter)
	require.NoError(t, err)

	userID := uuid.New()
	requestID := "req-1"
	input := validInput(userID)
	input.RequestID = &requestID

	entry, err := svc.Record(context.Background(), conn, input)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, entry.ID)

	stored, err := svc.FindByRequestID(context.Background(), nil, userID, enums.CreditTransactionExpense, requestID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, entry.ID, stored.ID)
	assert.Equal(t, int64(5500), stored.AfterPackageTokens)
	assert.Equal(t, int64(600), stored.AfterIndependentTokens)
	assert.Equal(t, "large", stored.Metadata["model"])

	require.Len(t, emitter.events, 1)
	event := emitter.events[0]
	assert.Equal(t, enums.EventCreditTransactionRecorded, event.EventType)
	assert.Equal(t, enums.AggregateCreditWallet, event.AggregateType)
	assert.Equal(t, userID, event.AggregateID)
	payload, ok := event.Data.(payloads.CreditTransactionRecordedEvent)
	require.True(t, ok)
	assert.Equal(t, entry.ID, payload.TransactionID)
	assert.Equal(t, int64(900), payload.Points)
}

func TestRecordValidation(t *testing.T) {
	conn := openTestDB(t)
	svc, err := NewService(NewRepository(conn), &recordingEmitter{})
	require.NoError(t, err)

	cases := map[string]func(*RecordInput){
		"missing user":     func(in *RecordInput) { in.UserID = uuid.Nil },
		"bad type":         func(in *RecordInput) { in.Type = "transfer" },
		"bad bucket":       func(in *RecordInput) { in.Bucket = "bonus" },
		"zero points":      func(in *RecordInput) { in.Points = 0 },
		"empty reason":     func(in *RecordInput) { in.Reason = " " },
		"negative balance": func(in *RecordInput) { in.After.PackageTokens = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			input := validInput(uuid.New())
			mutate(&input)
			_, err := svc.Record(context.Background(), conn, input)
			assert.Error(t, err)
		})
	}

	_, err = svc.Record(context.Background(), nil, validInput(uuid.New()))
	assert.Error(t, err)
}

func TestRecordFailsWhenEmitFails(t *testing.T) {
	conn := openTestDB(t)
	svc, err := NewService(NewRepository(conn), &recordingEmitter{err: errors.New("outbox down")})
	require.NoError(t, err)

	_, err = svc.Record(context.Background(), conn, validInput(uuid.New()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox down")
}

func TestRequestIDUniquePerUserAndType(t *testing.T) {
	conn := openTestDB(t)
	svc, err := NewService(NewRepository(conn), &recordingEmitter{})
	require.NoError(t, err)

	userID := uuid.New()
	requestID := "dup"
	first := validInput(userID)
	first.RequestID = &requestID
	_, err = svc.Record(context.Background(), conn, first)
	require.NoError(t, err)

	second := validInput(userID)
	second.RequestID = &requestID
	_, err = svc.Record(context.Background(), conn, second)
	assert.Error(t, err)

	other := validInput(uuid.New())
	other.RequestID = &requestID
	_, err = svc.Record(context.Background(), conn, other)
	assert.NoError(t, err)
}

func TestFindByOrderID(t *testing.T) {
	conn := openTestDB(t)
	svc, err := NewService(NewRepository(conn), &recordingEmitter{})
	require.NoError(t, err)

	userID := uuid.New()
	orderID := "order-9"
	input := validInput(userID)
	input.Type = enums.CreditTransactionIncome
	input.Bucket = enums.CreditBucketIndependent
	input.OrderID = &orderID
	input.Before = Balances{}
	input.After = Balances{IndependentTokens: 900}
	_, err = svc.Record(context.Background(), conn, input)
	require.NoError(t, err)

	found, err := svc.FindByOrderID(context.Background(), nil, userID, enums.CreditTransactionIncome, orderID)
	require.NoError(t, err)
	require.NotNil(t, found)

	missing, err := svc.FindByOrderID(context.Background(), nil, userID, enums.CreditTransactionExpense, orderID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	blank, err := svc.FindByOrderID(context.Background(), nil, userID, enums.CreditTransactionIncome, "")
	require.NoError(t, err)
	assert.Nil(t, blank)
}

func TestListTransactionsPaginatesNewestFirst(t *testing.T) {
	conn := openTestDB(t)
	svc, err := NewService(NewRepository(conn), &recordingEmitter{})
	require.NoError(t, err)

	userID := uuid.New()
	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		input := validInput(userID)
		input.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, err := svc.Record(context.Background(), conn, input)
		require.NoError(t, err)
	}
	_, err = svc.Record(context.Background(), conn, validInput(uuid.New()))
	require.NoError(t, err)

	first, err := svc.ListTransactions(context.Background(), userID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.Cursor)
	assert.True(t, first.Items[0].CreatedAt.Equal(base.Add(4*time.Minute)))
	assert.True(t, first.Items[1].CreatedAt.Equal(base.Add(3*time.Minute)))

	second, err := svc.ListTransactions(context.Background(), userID, pagination.Params{Limit: 2, Cursor: first.Cursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.True(t, second.Items[0].CreatedAt.Equal(base.Add(2*time.Minute)))

	third, err := svc.ListTransactions(context.Background(), userID, pagination.Params{Limit: 2, Cursor: second.Cursor})
	require.NoError(t, err)
	require.Len(t, third.Items, 1)
	assert.Empty(t, third.Cursor)
	assert.True(t, third.Items[0].CreatedAt.Equal(base))
}

func TestListTransactionsRejectsBadCursor(t *testing.T) {
	conn := openTestDB(t)
	svc, err := NewService(NewRepository(conn), &recordingEmitter{})
	require.NoError(t, err)

	_, err = svc.ListTransactions(context.Background(), uuid.New(), pagination.Params{Cursor: "%%%"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, &recordingEmitter{})
	assert.Error(t, err)
	_, err = NewService(NewRepository(nil), nil)
	assert.Error(t, err)
}

func TestListResultJSONShape(t *testing.T) {
	raw, err := json.Marshal(ListResult{Items: []models.CreditTransaction{}, Cursor: "abc"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[],"cursor":"abc"}`, string(raw))
}
