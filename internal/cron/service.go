package cron

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
	"github.com/angelmondragon/creditwallet-backend/pkg/metrics"
)

const defaultInterval = time.Hour

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds each job run. Zero means no deadline.
	JobTimeout time.Duration
}

// Service runs the registered jobs once per interval. Cycles start on UTC
// interval boundaries (the top of the hour for the default) and at most one
// worker in the cluster runs a given cycle.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	locker     Locker
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Locker == nil:
		return nil, errors.New("locker required")
	}
	svc := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		locker:     params.Locker,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
		now:        time.Now,
	}
	if svc.registry == nil {
		svc.registry = &Registry{}
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	return svc, nil
}

// RunOnce executes a single cycle and returns.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.runCycle(ctx)
}

// Run runs a cycle immediately, then one at every interval boundary until
// ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}

		wait := s.untilNextBoundary()
		s.logg.Debug(s.logg.WithField(ctx, "next_run_in", wait.String()), "cron sleeping")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) untilNextBoundary() time.Duration {
	now := s.now().UTC()
	return now.Truncate(s.interval).Add(s.interval).Sub(now)
}

// runCycle runs every job once under the cluster lock. Job failures do not
// stop the cycle; they come back combined.
func (s *Service) runCycle(ctx context.Context) (errs error) {
	lease, locked, err := s.locker.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		for _, job := range s.registry.Jobs() {
			s.metrics.IncLockSkipped(job.Name())
		}
		return nil
	}
	defer s.release(ctx, lease)

	s.logg.Info(ctx, "scheduled run starting")
	for _, job := range s.registry.Jobs() {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		if err := s.runJob(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	s.logg.Info(s.logg.WithField(ctx, "failed_jobs", len(multierr.Errors(errs))), "scheduled run complete")
	return errs
}

// release runs detached from ctx so a canceled cycle still frees the lock.
func (s *Service) release(ctx context.Context, lease Lease) {
	err := lease.Release(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, ErrLeaseLost):
		s.logg.Warn(ctx, "cron lease expired before the cycle finished; raise the lock ttl")
	case err != nil:
		s.logg.Error(ctx, "failed to release cron lock", err)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	ctx = s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	runCtx := ctx
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	s.logg.Info(ctx, "job start")
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
		elapsed := time.Since(start)
		s.metrics.ObserveDuration(name, elapsed)
		ctx = s.logg.WithField(ctx, "duration_ms", elapsed.Milliseconds())
		if err != nil {
			s.metrics.IncFailure(name)
			s.logg.Error(ctx, "job failed", err)
			return
		}
		s.metrics.IncSuccess(name)
		s.logg.Info(ctx, "job completed")
	}()
	return job.Run(runCtx)
}
