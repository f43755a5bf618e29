package enums

// OutboxDLQErrorReason records why an outbox row was parked instead of
// published.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonUndecodable marks rows whose type, aggregate or payload
	// could not be resolved. Replaying them needs a code or data fix.
	OutboxDLQReasonUndecodable OutboxDLQErrorReason = "undecodable"
	// OutboxDLQReasonNonRetryable marks publish errors Pub/Sub will not accept
	// on retry.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonUndecodable, OutboxDLQReasonNonRetryable, OutboxDLQReasonMaxAttempts:
		return true
	}
	return false
}
