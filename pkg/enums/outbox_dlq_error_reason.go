package enums

import "slices"

// OutboxDLQErrorReason records why a row left the outbox without being published.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts means every retry was spent on transient failures.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable covers unroutable or undecodable rows.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return slices.Contains([]OutboxDLQErrorReason{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable}, r)
}

func (r OutboxDLQErrorReason) String() string { return string(r) }
