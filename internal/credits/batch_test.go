package credits

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creditwallet-backend/internal/grants"
	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
)

type staticLister struct {
	ids   []uuid.UUID
	err   error
	calls int
}

func (l *staticLister) ListActiveUserIDs(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	start := 0
	if after != uuid.Nil {
		start = sort.Search(len(l.ids), func(i int) bool { return l.ids[i].String() > after.String() })
	}
	end := start + limit
	if end > len(l.ids) {
		end = len(l.ids)
	}
	return l.ids[start:end], nil
}

type scriptedRecoverer struct {
	mu       sync.Mutex
	outcomes map[uuid.UUID]*RecoverResult
	errs     map[uuid.UUID]error
	seenNow  map[time.Time]int
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (r *scriptedRecoverer) Recover(ctx context.Context, userID uuid.UUID, now time.Time) (*RecoverResult, error) {
	current := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		peak := r.peak.Load()
		if current <= peak || r.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	r.mu.Lock()
	r.seenNow[now]++
	r.mu.Unlock()

	if err := r.errs[userID]; err != nil {
		return nil, err
	}
	if outcome, ok := r.outcomes[userID]; ok {
		return outcome, nil
	}
	return &RecoverResult{Success: true, Recovered: 10}, nil
}

func sortedIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func TestBatchRunCountsOutcomesWithoutAborting(t *testing.T) {
	ids := sortedIDs(23)
	lister := &staticLister{ids: ids}
	recoverer := &scriptedRecoverer{
		outcomes: map[uuid.UUID]*RecoverResult{
			ids[3]: {Failure: enums.CreditFailureConflict},
		},
		errs: map[uuid.UUID]error{
			ids[10]: errors.New("connection reset"),
			ids[20]: errors.New("connection reset"),
		},
		seenNow: map[time.Time]int{},
	}
	scheduler, err := NewBatchRecoveryScheduler(lister, recoverer, nil, nil)
	require.NoError(t, err)

	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	summary, err := scheduler.Run(context.Background(), now, 5, 3)
	require.NoError(t, err)

	assert.Equal(t, int64(23), summary.TotalUsers)
	assert.Equal(t, int64(20), summary.Succeeded)
	assert.Equal(t, int64(3), summary.Failed)
	assert.Equal(t, int64(200), summary.Recovered)
	assert.LessOrEqual(t, recoverer.peak.Load(), int64(3))
	assert.Equal(t, map[time.Time]int{now: 23}, recoverer.seenNow)
	assert.Equal(t, 5, lister.calls)
}

func TestBatchRunStopsOnListError(t *testing.T) {
	lister := &staticLister{err: errors.New("db down")}
	scheduler, err := NewBatchRecoveryScheduler(lister, &scriptedRecoverer{seenNow: map[time.Time]int{}}, nil, nil)
	require.NoError(t, err)

	_, err = scheduler.Run(context.Background(), time.Now(), 10, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestBatchRunValidatesArguments(t *testing.T) {
	scheduler, err := NewBatchRecoveryScheduler(&staticLister{}, &scriptedRecoverer{seenNow: map[time.Time]int{}}, nil, nil)
	require.NoError(t, err)

	_, err = scheduler.Run(context.Background(), time.Now(), 0, 1)
	assert.Error(t, err)
	_, err = scheduler.Run(context.Background(), time.Now(), 1, 0)
	assert.Error(t, err)

	_, err = NewBatchRecoveryScheduler(nil, &scriptedRecoverer{}, nil, nil)
	assert.Error(t, err)
	_, err = NewBatchRecoveryScheduler(&staticLister{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestBatchRunIsDeterministicAndRerunnable(t *testing.T) {
	h := newHarness(t)
	policy := &grants.Policy{CreditCap: 1000, RecoveryRatePerHour: 120, DailyUsageLimit: 500, ManualResetsPerDay: 1}

	type seeded struct {
		userID   uuid.UUID
		expected int64
	}
	var users []seeded
	setups := []struct {
		balance int64
		elapsed time.Duration
		want    int64
	}{
		{balance: 0, elapsed: time.Hour, want: 120},
		{balance: 100, elapsed: 30 * time.Minute, want: 160},
		{balance: 950, elapsed: 2 * time.Hour, want: 1000},
		{balance: 1000, elapsed: 5 * time.Hour, want: 1000},
		{balance: 500, elapsed: 20 * time.Second, want: 500},
		{balance: 10, elapsed: 90 * time.Minute, want: 190},
	}
	for _, setup := range setups {
		userID := h.seed(t, policy, models.CreditWallet{
			PackageTokensRemaining: setup.balance,
			LastRecoveryAt:         testNow.Add(-setup.elapsed),
		})
		users = append(users, seeded{userID: userID, expected: setup.want})
	}
	// no grant, never visited
	outsider := h.seed(t, nil, models.CreditWallet{PackageTokensRemaining: 5, LastRecoveryAt: testNow.Add(-10 * time.Hour)})

	scheduler, err := NewBatchRecoveryScheduler(h.grants, h.svc, nil, nil)
	require.NoError(t, err)

	summary, err := scheduler.Run(context.Background(), testNow, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(len(setups)), summary.TotalUsers)
	assert.Equal(t, int64(len(setups)), summary.Succeeded)
	assert.Zero(t, summary.Failed)

	for _, user := range users {
		wallet := h.wallet(t, user.userID)
		assert.Equal(t, user.expected, wallet.PackageTokensRemaining)
		entries := h.entries(t, user.userID)
		if wallet.Version == 0 {
			assert.Empty(t, entries)
			continue
		}
		require.Len(t, entries, 1)
		assert.Equal(t, "auto-recovery", entries[0].Reason)
		assert.Equal(t, wallet.PackageTokensRemaining-entries[0].BeforePackageTokens, entries[0].Points)
	}
	assert.Equal(t, int64(5), h.wallet(t, outsider).PackageTokensRemaining)

	again, err := scheduler.Run(context.Background(), testNow, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(len(setups)), again.Succeeded)
	assert.Zero(t, again.Recovered)
	for _, user := range users {
		assert.Equal(t, user.expected, h.wallet(t, user.userID).PackageTokensRemaining)
		assert.LessOrEqual(t, len(h.entries(t, user.userID)), 1)
	}
}
