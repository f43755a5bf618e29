package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType names the entity an outbox event describes. It also
// selects the Pub/Sub ordering key.
type OutboxAggregateType string

const (
	AggregateCreditWallet OutboxAggregateType = "credit_wallet"
	AggregateCreditGrant  OutboxAggregateType = "credit_grant"
)

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateCreditWallet || a == AggregateCreditGrant
}

// OutboxEventType identifies the payload schema of an outbox row.
type OutboxEventType string

const (
	EventCreditTransactionRecorded OutboxEventType = "credit_transaction_recorded"
	EventCreditPackageGranted      OutboxEventType = "credit_package_granted"
	EventCreditPackageRefunded     OutboxEventType = "credit_package_refunded"
)

// every event type belongs to exactly one aggregate
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventCreditTransactionRecorded: AggregateCreditWallet,
	EventCreditPackageGranted:      AggregateCreditGrant,
	EventCreditPackageRefunded:     AggregateCreditGrant,
}

// OutboxEventTypes lists the known event types in a stable order.
func OutboxEventTypes() []OutboxEventType {
	types := make([]OutboxEventType, 0, len(eventAggregates))
	for t := range eventAggregates {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type rows of this event type must carry.
func (e OutboxEventType) Aggregate() (OutboxAggregateType, bool) {
	a, ok := eventAggregates[e]
	return a, ok
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	e := OutboxEventType(value)
	if !e.IsValid() {
		return "", fmt.Errorf("invalid event type %q", value)
	}
	return e, nil
}
