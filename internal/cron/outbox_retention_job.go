package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
	"gorm.io/gorm"
)

const (
	defaultPublishedRetention  = 30 * 24 * time.Hour
	defaultDeadLetterRetention = 90 * 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedPurger interface {
	PurgePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type deadLetterPurger interface {
	PurgeBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams configure the outbox cleanup job.
type OutboxRetentionJobParams struct {
	Logger              *logger.Logger
	DB                  txRunner
	Events              publishedPurger
	DeadLetters         deadLetterPurger
	PublishedRetention  time.Duration
	DeadLetterRetention time.Duration
}

// NewOutboxRetentionJob trims published credit events and old dead letters.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	published := params.PublishedRetention
	if published <= 0 {
		published = defaultPublishedRetention
	}
	deadLetters := params.DeadLetterRetention
	if deadLetters <= 0 {
		deadLetters = defaultDeadLetterRetention
	}
	return &outboxRetentionJob{
		logg:                params.Logger,
		db:                  params.DB,
		events:              params.Events,
		deadLetters:         params.DeadLetters,
		publishedRetention:  published,
		deadLetterRetention: deadLetters,
		now:                 time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg                *logger.Logger
	db                  txRunner
	events              publishedPurger
	deadLetters         deadLetterPurger
	publishedRetention  time.Duration
	deadLetterRetention time.Duration
	now                 func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	publishedCutoff := now.Add(-j.publishedRetention)
	deadLetterCutoff := now.Add(-j.deadLetterRetention)

	var eventsDeleted, deadLettersDeleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.events.PurgePublishedBefore(tx, publishedCutoff)
		if err != nil {
			return fmt.Errorf("purge published events: %w", err)
		}
		eventsDeleted = rows
		if j.deadLetters == nil {
			return nil
		}
		rows, err = j.deadLetters.PurgeBefore(tx, deadLetterCutoff)
		if err != nil {
			return fmt.Errorf("purge dead letters: %w", err)
		}
		deadLettersDeleted = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"published_cutoff":     publishedCutoff,
		"dead_letter_cutoff":   deadLetterCutoff,
		"events_deleted":       eventsDeleted,
		"dead_letters_deleted": deadLettersDeleted,
	})
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
