package enums

import "fmt"

// BillingEventKind is the normalized event vocabulary the state machine understands.
type BillingEventKind string

const (
	BillingEventCheckoutCompleted   BillingEventKind = "checkout.completed"
	BillingEventSubscriptionCreated BillingEventKind = "subscription.created"
	BillingEventSubscriptionUpdated BillingEventKind = "subscription.updated"
	BillingEventSubscriptionDeleted BillingEventKind = "subscription.canceled"
	BillingEventPaymentFailed       BillingEventKind = "payment.failed"
	BillingEventPaymentSucceeded    BillingEventKind = "payment.succeeded"
	BillingEventTrialExpired        BillingEventKind = "sweep.trial_expired"
	BillingEventGraceExpired        BillingEventKind = "sweep.grace_expired"
)

var validBillingEventKinds = []BillingEventKind{
	BillingEventCheckoutCompleted,
	BillingEventSubscriptionCreated,
	BillingEventSubscriptionUpdated,
	BillingEventSubscriptionDeleted,
	BillingEventPaymentFailed,
	BillingEventPaymentSucceeded,
	BillingEventTrialExpired,
	BillingEventGraceExpired,
}

func (k BillingEventKind) String() string {
	return string(k)
}

func (k BillingEventKind) IsValid() bool {
	for _, candidate := range validBillingEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsSweep reports whether the kind is synthesized by the scheduled sweep.
func (k BillingEventKind) IsSweep() bool {
	return k == BillingEventTrialExpired || k == BillingEventGraceExpired
}

func ParseBillingEventKind(value string) (BillingEventKind, error) {
	for _, candidate := range validBillingEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing event kind %q", value)
}

// LedgerSource records where a ledger entry originated.
type LedgerSource string

const (
	LedgerSourceProvider LedgerSource = "provider"
	LedgerSourceSweep    LedgerSource = "sweep"
)

// LedgerOutcome records what the apply step did with a ledger entry.
type LedgerOutcome string

const (
	LedgerOutcomePending  LedgerOutcome = "pending"
	LedgerOutcomeApplied  LedgerOutcome = "applied"
	LedgerOutcomeStale    LedgerOutcome = "stale"
	LedgerOutcomeRejected LedgerOutcome = "rejected"
	LedgerOutcomeIgnored  LedgerOutcome = "ignored"
)

var validLedgerOutcomes = []LedgerOutcome{
	LedgerOutcomePending,
	LedgerOutcomeApplied,
	LedgerOutcomeStale,
	LedgerOutcomeRejected,
	LedgerOutcomeIgnored,
}

func (o LedgerOutcome) String() string {
	return string(o)
}

func (o LedgerOutcome) IsValid() bool {
	for _, candidate := range validLedgerOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// IsResolved reports whether the entry needs no further apply attempts.
func (o LedgerOutcome) IsResolved() bool {
	return o != LedgerOutcomePending && o.IsValid()
}
