package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/creditwallet-backend/internal/credits"
	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
)

const (
	defaultRecoveryPageSize    = 500
	defaultRecoveryConcurrency = 8
)

type recoveryBatch interface {
	Run(ctx context.Context, now time.Time, pageSize, concurrency int) (credits.BatchSummary, error)
}

// CreditRecoveryJobParams configure the batch recovery job.
type CreditRecoveryJobParams struct {
	Logger      *logger.Logger
	Batch       recoveryBatch
	PageSize    int
	Concurrency int
}

// NewCreditRecoveryJob returns the job that tops up every active package
// wallet with the credits earned since its last recovery.
func NewCreditRecoveryJob(params CreditRecoveryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Batch == nil {
		return nil, fmt.Errorf("recovery batch required")
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultRecoveryPageSize
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultRecoveryConcurrency
	}
	return &creditRecoveryJob{
		logg:        params.Logger,
		batch:       params.Batch,
		pageSize:    pageSize,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

type creditRecoveryJob struct {
	logg        *logger.Logger
	batch       recoveryBatch
	pageSize    int
	concurrency int
	now         func() time.Time
}

func (j *creditRecoveryJob) Name() string { return "credit-recovery" }

// Run pins a single timestamp for the whole pass.
func (j *creditRecoveryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	summary, err := j.batch.Run(ctx, now, j.pageSize, j.concurrency)
	if err != nil {
		return fmt.Errorf("credit recovery: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"as_of":            now,
		"total_users":      summary.TotalUsers,
		"succeeded":        summary.Succeeded,
		"failed":           summary.Failed,
		"recovered_points": summary.Recovered,
	})
	j.logg.Info(logCtx, "credit recovery pass complete")
	return nil
}
