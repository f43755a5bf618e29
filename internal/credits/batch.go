package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
	"github.com/angelmondragon/creditwallet-backend/pkg/metrics"
)

const maxSampledErrors = 5

type activeUserLister interface {
	ListActiveUserIDs(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type recoverer interface {
	Recover(ctx context.Context, userID uuid.UUID, now time.Time) (*RecoverResult, error)
}

// BatchSummary counts the users visited by one batch run.
type BatchSummary struct {
	TotalUsers int64 `json:"total_users"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Recovered  int64 `json:"recovered_points"`
}

// BatchRecoveryScheduler applies recovery to every user holding an active
// grant.
type BatchRecoveryScheduler struct {
	users     activeUserLister
	recoverer recoverer
	metrics   *metrics.CreditMetrics
	logg      *logger.Logger
}

// NewBatchRecoveryScheduler wires the scheduler.
func NewBatchRecoveryScheduler(users activeUserLister, recoverer recoverer, m *metrics.CreditMetrics, logg *logger.Logger) (*BatchRecoveryScheduler, error) {
	if users == nil {
		return nil, errors.New("active user lister required")
	}
	if recoverer == nil {
		return nil, errors.New("recoverer required")
	}
	return &BatchRecoveryScheduler{
		users:     users,
		recoverer: recoverer,
		metrics:   m,
		logg:      logg,
	}, nil
}

// Run pages through active users in id order and recovers each page with at
// most concurrency workers. Every worker uses the same now. Per-user failures
// are counted, never returned; only a failed page read aborts the run.
func (b *BatchRecoveryScheduler) Run(ctx context.Context, now time.Time, pageSize, concurrency int) (BatchSummary, error) {
	if pageSize <= 0 {
		return BatchSummary{}, fmt.Errorf("page size must be positive")
	}
	if concurrency <= 0 {
		return BatchSummary{}, fmt.Errorf("concurrency must be positive")
	}
	now = now.UTC()

	var (
		total, succeeded, failed, recovered atomic.Int64
		mu                                  sync.Mutex
		sampled                             error
		sampledCount                        int
	)
	recordFailure := func(userID uuid.UUID, err error) {
		failed.Add(1)
		mu.Lock()
		defer mu.Unlock()
		if sampledCount < maxSampledErrors {
			sampled = multierr.Append(sampled, fmt.Errorf("user %s: %w", userID, err))
			sampledCount++
		}
	}

	summary := func() BatchSummary {
		return BatchSummary{
			TotalUsers: total.Load(),
			Succeeded:  succeeded.Load(),
			Failed:     failed.Load(),
			Recovered:  recovered.Load(),
		}
	}

	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return b.finish(ctx, summary(), sampled), err
		}
		ids, err := b.users.ListActiveUserIDs(ctx, now, after, pageSize)
		if err != nil {
			return b.finish(ctx, summary(), sampled), fmt.Errorf("list active users: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		var group errgroup.Group
		group.SetLimit(concurrency)
		for _, userID := range ids {
			total.Add(1)
			group.Go(func() error {
				result, err := b.recoverer.Recover(ctx, userID, now)
				switch {
				case err != nil:
					recordFailure(userID, err)
				case !result.Success:
					recordFailure(userID, errors.New(string(result.Failure)))
				default:
					succeeded.Add(1)
					recovered.Add(result.Recovered)
				}
				return nil
			})
		}
		_ = group.Wait()

		after = ids[len(ids)-1]
		if len(ids) < pageSize {
			break
		}
	}
	return b.finish(ctx, summary(), sampled), nil
}

func (b *BatchRecoveryScheduler) finish(ctx context.Context, summary BatchSummary, sampled error) BatchSummary {
	b.metrics.ObserveBatch(summary.Succeeded, summary.Failed)
	if b.logg == nil {
		return summary
	}
	fields := map[string]any{
		"total_users":      summary.TotalUsers,
		"succeeded":        summary.Succeeded,
		"failed":           summary.Failed,
		"recovered_points": summary.Recovered,
	}
	if sampled != nil {
		fields["sample_errors"] = sampled.Error()
		b.logg.Warn(b.logg.WithFields(ctx, fields), "credit recovery batch finished with failures")
		return summary
	}
	b.logg.Info(b.logg.WithFields(ctx, fields), "credit recovery batch finished")
	return summary
}
