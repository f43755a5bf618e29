package grants

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.CreditGrant{}))
	return conn
}

func newGrant(userID uuid.UUID, status enums.CreditGrantStatus, startsAt time.Time, expiresAt *time.Time) *models.CreditGrant {
	return &models.CreditGrant{
		UserID:              userID,
		PlanCode:            "pro",
		Status:              status,
		CreditCap:           6000,
		RecoveryRatePerHour: 100,
		DailyUsageLimit:     800,
		ManualResetsPerDay:  1,
		StartsAt:            startsAt,
		ExpiresAt:           expiresAt,
	}
}

func TestFindActiveSkipsInactiveAndExpired(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()
	userID := uuid.New()

	expired := baseTime.Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, newGrant(userID, enums.CreditGrantActive, baseTime.Add(-48*time.Hour), &expired)))
	require.NoError(t, repo.Create(ctx, newGrant(userID, enums.CreditGrantRefunded, baseTime.Add(-time.Hour), nil)))
	require.NoError(t, repo.Create(ctx, newGrant(userID, enums.CreditGrantActive, baseTime.Add(time.Hour), nil)))

	grant, err := repo.FindActive(ctx, userID, baseTime)
	require.NoError(t, err)
	assert.Nil(t, grant)

	current := newGrant(userID, enums.CreditGrantActive, baseTime.Add(-2*time.Hour), nil)
	require.NoError(t, repo.Create(ctx, current))

	grant, err = repo.FindActive(ctx, userID, baseTime)
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, current.ID, grant.ID)

	policy := SnapshotOf(grant)
	require.NotNil(t, policy)
	assert.Equal(t, int64(6000), policy.CreditCap)
	assert.Equal(t, int64(100), policy.RecoveryRatePerHour)
	assert.Equal(t, int64(800), policy.DailyUsageLimit)
	assert.Equal(t, 1, policy.ManualResetsPerDay)
}

func TestSnapshotOfNil(t *testing.T) {
	assert.Nil(t, SnapshotOf(nil))
}

func TestFindByOrderIDAndUpdateStatus(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	orderID := "order-1"
	grant := newGrant(uuid.New(), enums.CreditGrantActive, baseTime, nil)
	grant.OrderID = &orderID
	require.NoError(t, repo.Create(ctx, grant))

	found, err := repo.FindByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, grant.ID, found.ID)

	require.NoError(t, repo.UpdateStatus(ctx, grant.ID, enums.CreditGrantRefunded))
	found, err = repo.FindByOrderID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, enums.CreditGrantRefunded, found.Status)

	missing, err := repo.FindByOrderID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, repo.UpdateStatus(ctx, grant.ID, enums.CreditGrantStatus("bogus")))
}

func TestListActiveUserIDsPagesDistinctUsers(t *testing.T) {
	repo := NewRepository(openTestDB(t))
	ctx := context.Background()

	var active []uuid.UUID
	for i := 0; i < 5; i++ {
		userID := uuid.New()
		active = append(active, userID)
		require.NoError(t, repo.Create(ctx, newGrant(userID, enums.CreditGrantActive, baseTime.Add(-time.Hour), nil)))
	}
	// a second active grant for the same user must not duplicate the id
	require.NoError(t, repo.Create(ctx, newGrant(active[0], enums.CreditGrantActive, baseTime.Add(-2*time.Hour), nil)))
	require.NoError(t, repo.Create(ctx, newGrant(uuid.New(), enums.CreditGrantCanceled, baseTime.Add(-time.Hour), nil)))

	var seen []uuid.UUID
	after := uuid.Nil
	for {
		page, err := repo.ListActiveUserIDs(ctx, baseTime, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		seen = append(seen, page...)
		after = page[len(page)-1]
	}

	assert.ElementsMatch(t, active, seen)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1].String(), seen[i].String())
	}

	_, err := repo.ListActiveUserIDs(ctx, baseTime, uuid.Nil, 0)
	assert.Error(t, err)
}
