package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditwallet-backend/pkg/config"
	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
	"github.com/angelmondragon/creditwallet-backend/pkg/logger"
	"github.com/angelmondragon/creditwallet-backend/pkg/metrics"
	"github.com/angelmondragon/creditwallet-backend/pkg/outbox/registry"
	"github.com/angelmondragon/creditwallet-backend/pkg/pubsub"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

const (
	outcomePublished  = "published"
	outcomeRetry      = "retry"
	outcomeDeadLetter = "dead_letter"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Topic(name string) pubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) pubsub.Publisher

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
	Clock            func() time.Time
}

// Service drains credit wallet events from the outbox to Pub/Sub. Messages
// carry the wallet aggregate id as ordering key so a subscriber sees one
// user's ledger in commit order.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	dlq              dlqRepository
	publisherFactory publisherFactory
	metrics          *metrics.OutboxMetrics
	clock            func() time.Time
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
	dlqTopic         string
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = params.PubSub.Topic
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		dlq:              params.DLQRepository,
		publisherFactory: factory,
		metrics:          params.Metrics,
		clock:            clock,
		batchSize:        positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:      positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval:     time.Duration(positiveOr(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
		dlqTopic:         strings.TrimSpace(params.Config.PubSub.DLQTopic),
	}, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	wait := s.pollInterval
	for {
		claimed, err := s.processBatch(ctx)
		switch {
		case ctx.Err() != nil:
			s.logg.Info(ctx, "outbox publisher stopping")
			return ctx.Err()
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = nextBackoff(wait, s.pollInterval, maxBackoff)
		case claimed:
			wait = s.pollInterval
			continue
		default:
			wait = s.pollInterval
		}
		if err := sleepContext(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

// inflight is one claimed row between Publish and settlement. A row that
// never left carries its dead-letter reason instead of a result.
type inflight struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   pubsub.Result
	reason   enums.OutboxDLQErrorReason
	cause    error
}

// processBatch locks a page of unpublished rows, hands every message to the
// client before waiting on any acknowledgement, then settles rows in fetch
// order. It reports whether any row was claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var (
		claimed bool
		dead    []models.OutboxDLQ
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events) > 0
		dead = dead[:0]

		pending := make([]inflight, 0, len(events))
		for _, event := range events {
			pending = append(pending, s.dispatch(ctx, event))
		}

		waitCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()
		for _, p := range pending {
			entry, err := s.settle(waitCtx, tx, p)
			if err != nil {
				return err
			}
			if entry != nil {
				dead = append(dead, *entry)
			}
		}
		return nil
	})
	if err == nil {
		s.notifyDeadLetters(ctx, dead)
	}
	return claimed, err
}

func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) inflight {
	p := inflight{event: event}
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		p.reason, p.cause = enums.OutboxDLQReasonUndecodable, err
		return p
	}
	p.resolved = resolved

	topic := resolved.Descriptor.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		p.reason, p.cause = enums.OutboxDLQReasonNonRetryable, fmt.Errorf("publisher not configured for topic %s", topic)
		return p
	}
	p.result = pub.Publish(ctx, buildMessage(event, resolved))
	if p.result == nil {
		p.reason, p.cause = enums.OutboxDLQReasonNonRetryable, fmt.Errorf("publisher returned nil for topic %s", topic)
	}
	return p
}

// settle records the publish outcome for one row. It returns the dead letter
// entry when the row became terminal.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, p inflight) (*models.OutboxDLQ, error) {
	fields := eventFields(p.event, p.resolved)
	if p.reason != "" {
		return s.deadLetter(ctx, tx, p.event, p.reason, p.cause, fields)
	}

	_, pubErr := p.result.Get(ctx)
	if pubErr == nil {
		if err := s.repo.MarkPublishedTx(tx, p.event.ID); err != nil {
			return nil, fmt.Errorf("mark published %s: %w", p.event.ID, err)
		}
		s.metrics.Observe(string(p.event.EventType), outcomePublished)
		s.logg.Debug(s.logg.WithFields(ctx, fields), "outbox event published")
		return nil, nil
	}

	if permanentPublishError(pubErr) {
		return s.deadLetter(ctx, tx, p.event, enums.OutboxDLQReasonNonRetryable, pubErr, fields)
	}

	attempt := p.event.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= s.maxAttempts {
		return s.deadLetter(ctx, tx, p.event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", pubErr), fields)
	}

	fields["error"] = pubErr.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, p.event.ID, pubErr); err != nil {
		return nil, fmt.Errorf("mark failure %s: %w", p.event.ID, err)
	}
	s.metrics.Observe(string(p.event.EventType), outcomeRetry)
	return nil, nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) (*models.OutboxDLQ, error) {
	msg := cause.Error()
	fields["error_reason"] = reason
	fields["error"] = msg
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event dead-lettered")

	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.clock().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return nil, fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return nil, fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.metrics.Observe(string(event.EventType), outcomeDeadLetter)
	return &entry, nil
}

// notifyDeadLetters announces committed dead letters on the DLQ topic when
// one is configured. Delivery is best effort; the outbox_dlq row is the
// record.
func (s *Service) notifyDeadLetters(ctx context.Context, entries []models.OutboxDLQ) {
	if s.dlqTopic == "" || len(entries) == 0 {
		return
	}
	pub := s.publisherFactory(s.dlqTopic)
	if pub == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	results := make([]pubsub.Result, len(entries))
	for i, entry := range entries {
		results[i] = pub.Publish(ctx, deadLetterMessage(entry))
	}
	for i, res := range results {
		if res == nil {
			continue
		}
		if _, err := res.Get(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "event_id", entries[i].EventID.String()), "dead letter notice not delivered", err)
		}
	}
}

// permanentPublishError reports publish failures that retrying the same
// message cannot fix: a rejected message or a topic we may not publish to.
func permanentPublishError(err error) bool {
	if errors.Is(err, registry.ErrPermanent) {
		return true
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition:
		return true
	}
	return false
}

func buildMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"schema_version": strconv.Itoa(resolved.Envelope.Version),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
		OrderingKey: event.AggregateID.String(),
	}
}

func deadLetterMessage(entry models.OutboxDLQ) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data: entry.Payload,
		Attributes: map[string]string{
			"event_id":      entry.EventID.String(),
			"event_type":    string(entry.EventType),
			"aggregate_id":  entry.AggregateID.String(),
			"error_reason":  string(entry.ErrorReason),
			"attempt_count": strconv.Itoa(entry.AttemptCount),
			"failed_at":     entry.FailedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func eventFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if resolved != nil {
		fields["topic"] = resolved.Descriptor.Topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, limit)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
