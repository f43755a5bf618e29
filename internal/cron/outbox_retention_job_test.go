package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
	"gorm.io/gorm"
)

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakePurger struct {
	cutoff time.Time
	rows   int64
	err    error
	calls  int
}

func (f *fakePurger) PurgePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return f.rows, f.err
}

func (f *fakePurger) PurgeBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return f.rows, f.err
}

func newRetentionJob(t *testing.T, events, deadLetters *fakePurger) *outboxRetentionJob {
	t.Helper()
	params := OutboxRetentionJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		DB:     passthroughTx{},
		Events: events,
	}
	if deadLetters != nil {
		params.DeadLetters = deadLetters
	}
	jobIface, err := NewOutboxRetentionJob(params)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

func TestOutboxRetentionJobUsesBothCutoffs(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	events := &fakePurger{rows: 12}
	deadLetters := &fakePurger{rows: 2}
	job := newRetentionJob(t, events, deadLetters)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-defaultPublishedRetention); !events.cutoff.Equal(want) {
		t.Fatalf("expected published cutoff %s, got %s", want, events.cutoff)
	}
	if want := now.Add(-defaultDeadLetterRetention); !deadLetters.cutoff.Equal(want) {
		t.Fatalf("expected dead letter cutoff %s, got %s", want, deadLetters.cutoff)
	}
	if events.calls != 1 || deadLetters.calls != 1 {
		t.Fatalf("expected one purge each, got %d and %d", events.calls, deadLetters.calls)
	}
}

func TestOutboxRetentionJobWithoutDeadLetters(t *testing.T) {
	events := &fakePurger{}
	job := newRetentionJob(t, events, nil)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if events.calls != 1 {
		t.Fatalf("expected events purge, got %d calls", events.calls)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	job := newRetentionJob(t, &fakePurger{err: errors.New("boom")}, &fakePurger{})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewOutboxRetentionJobValidates(t *testing.T) {
	if _, err := NewOutboxRetentionJob(OutboxRetentionJobParams{DB: passthroughTx{}, Events: &fakePurger{}}); err == nil {
		t.Fatal("expected logger error")
	}
	if _, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.New(logger.Options{}), Events: &fakePurger{}}); err == nil {
		t.Fatal("expected db error")
	}
	if _, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.New(logger.Options{}), DB: passthroughTx{}}); err == nil {
		t.Fatal("expected repository error")
	}
}
