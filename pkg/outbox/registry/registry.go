// Package registry knows every outbox event type the publisher may send: the
// topic it goes to and the payload struct its envelope must decode into.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditwallet-backend/pkg/config"
	"github.com/angelmondragon/creditwallet-backend/pkg/db/models"
	"github.com/angelmondragon/creditwallet-backend/pkg/enums"
	"github.com/angelmondragon/creditwallet-backend/pkg/outbox"
	"github.com/angelmondragon/creditwallet-backend/pkg/outbox/payloads"
)

// ErrPermanent marks failures that no retry can fix. Resolve wraps every
// error it returns with it.
var ErrPermanent = errors.New("permanent outbox failure")

// Permanent tags err with ErrPermanent while keeping it in the chain.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// ResolvedEvent is a validated outbox row with its payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
	topics  []string
}

var schemas = map[enums.OutboxEventType]func() any{
	enums.EventCreditTransactionRecorded: func() any { return new(payloads.CreditTransactionRecordedEvent) },
	enums.EventCreditPackageGranted:      func() any { return new(payloads.CreditPackageGrantedEvent) },
	enums.EventCreditPackageRefunded:     func() any { return new(payloads.CreditPackageRefundedEvent) },
}

// NewEventRegistry routes every credit event to cfg.CreditsTopic. It fails
// if an event type has no payload schema.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.CreditsTopic)
	if topic == "" {
		return nil, errors.New("credits topic is required")
	}

	types := enums.OutboxEventTypes()
	reg := &EventRegistry{
		entries: make(map[enums.OutboxEventType]EventDescriptor, len(types)),
		topics:  []string{topic},
	}
	for _, t := range types {
		schema, ok := schemas[t]
		if !ok {
			return nil, fmt.Errorf("no payload schema for %s", t)
		}
		aggregate, _ := t.Aggregate()
		reg.entries[t] = EventDescriptor{EventType: t, AggregateType: aggregate, Topic: topic, newPayload: schema}
	}
	return reg, nil
}

// Topics lists the topics events can be routed to.
func (r *EventRegistry) Topics() []string {
	return r.topics
}

// Resolve checks the row against its descriptor and decodes the payload. A
// row that fails here fails the same way on every attempt, so all errors are
// Permanent.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, Permanent(fmt.Errorf("unsupported event type %q", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, Permanent(fmt.Errorf("%s belongs to %s, row says %s", event.EventType, desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, Permanent(errors.New("missing aggregate_id"))
	}

	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%s: %w", event.EventType, err))
	}
	if env.EventType != "" && env.EventType != event.EventType {
		return nil, Permanent(fmt.Errorf("envelope type %s does not match row type %s", env.EventType, event.EventType))
	}
	payload := desc.newPayload()
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
