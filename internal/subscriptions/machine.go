package subscriptions

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/entitlement-engine/pkg/enums"
)

// CheckoutMode distinguishes recurring checkouts from one-time purchases.
type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

// Event is a normalized billing event, either decoded from the provider or synthesized by a sweep.
type Event struct {
	ID             string
	Kind           enums.BillingEventKind
	Source         enums.LedgerSource
	SubscriptionID string
	OccurredAt     time.Time
	Seq            int64
	Details        Details
}

// Details carries the target data an event brings along. Nil pointers leave the record untouched.
type Details struct {
	ProviderStatus    string
	Mode              CheckoutMode
	BillingCustomerID string
	ClientReferenceID string
	Email             string
	PlanTier          enums.PlanTier
	PlanName          string
	PriceAmount       decimal.NullDecimal
	Currency          string
	CurrentPeriodEnd  *time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd *bool
	Deadline          *time.Time
}

// State is the slice of a subscription record the machine decides on.
type State struct {
	Exists       bool
	Status       enums.SubscriptionStatus
	LastEventAt  time.Time
	LastEventSeq int64
	TrialEnd     *time.Time
	GraceEnd     *time.Time
}

// Effect is the entitlement consequence of landing in a state.
type Effect struct {
	Access  enums.EntitlementAccess
	Warning bool
}

// Decision is the pure result of Transition.
type Decision struct {
	Outcome enums.LedgerOutcome
	Next    enums.SubscriptionStatus
	Effect  Effect
	Reason  string
}

// Applied reports whether the decision changes the record.
func (d Decision) Applied() bool {
	return d.Outcome == enums.LedgerOutcomeApplied
}

// Policy holds the lifecycle rules no provider event announces.
type Policy struct {
	GracePeriod time.Duration
	TrialExpiry enums.SubscriptionStatus
}

// Machine maps (state, event) to a decision. It holds no mutable state.
type Machine struct {
	policy Policy
}

var allowedEdges = map[enums.SubscriptionStatus][]enums.SubscriptionStatus{
	enums.SubscriptionStatusNone: {
		enums.SubscriptionStatusNone,
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCanceled,
	},
	enums.SubscriptionStatusTrialing: {
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCanceled,
		enums.SubscriptionStatusNone,
	},
	enums.SubscriptionStatusActive: {
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCanceled,
	},
	enums.SubscriptionStatusPastDue: {
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusCanceled,
	},
}

// NewMachine validates the policy and returns a state machine.
func NewMachine(policy Policy) (*Machine, error) {
	if policy.GracePeriod < 0 {
		return nil, fmt.Errorf("grace period must not be negative")
	}
	switch policy.TrialExpiry {
	case enums.SubscriptionStatusCanceled, enums.SubscriptionStatusNone:
	case "":
		policy.TrialExpiry = enums.SubscriptionStatusCanceled
	default:
		return nil, fmt.Errorf("trial expiry must land in canceled or none, got %q", policy.TrialExpiry)
	}
	return &Machine{policy: policy}, nil
}

// Policy returns the lifecycle policy the machine was built with.
func (m *Machine) Policy() Policy {
	return m.policy
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to enums.SubscriptionStatus) bool {
	for _, candidate := range allowedEdges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// EffectFor maps a lifecycle state to its entitlement effect.
func EffectFor(status enums.SubscriptionStatus) Effect {
	switch status {
	case enums.SubscriptionStatusTrialing, enums.SubscriptionStatusActive:
		return Effect{Access: enums.EntitlementAccessFull}
	case enums.SubscriptionStatusPastDue:
		return Effect{Access: enums.EntitlementAccessGrace, Warning: true}
	default:
		return Effect{Access: enums.EntitlementAccessNone}
	}
}

// ProviderStatusTarget maps a provider subscription status onto the local lifecycle.
func ProviderStatusTarget(raw string) (enums.SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trialing":
		return enums.SubscriptionStatusTrialing, true
	case "active":
		return enums.SubscriptionStatusActive, true
	case "past_due", "unpaid":
		return enums.SubscriptionStatusPastDue, true
	case "canceled", "incomplete_expired":
		return enums.SubscriptionStatusCanceled, true
	case "incomplete", "paused":
		return enums.SubscriptionStatusNone, true
	default:
		return "", false
	}
}

// Transition decides what ev does to cur. It never mutates anything.
func (m *Machine) Transition(cur State, ev Event) Decision {
	current := cur.Status
	if !cur.Exists || current == "" {
		current = enums.SubscriptionStatusNone
	}
	keep := func(outcome enums.LedgerOutcome, reason string) Decision {
		return Decision{Outcome: outcome, Next: current, Effect: EffectFor(current), Reason: reason}
	}

	if ev.Kind.IsSweep() {
		if reason, ok := m.sweepApplies(cur, current, ev); !ok {
			return keep(enums.LedgerOutcomeStale, reason)
		}
	}

	target, err := m.target(ev)
	if err != nil {
		return keep(enums.LedgerOutcomeRejected, err.Error())
	}

	if current.IsTerminal() {
		return keep(enums.LedgerOutcomeStale, "subscription already canceled")
	}

	// Sweep markers were already checked against the live state and deadline above.
	// Gating them on the watermark would let any later event strand the record.
	cancellation := ev.Source == enums.LedgerSourceProvider && target == enums.SubscriptionStatusCanceled
	if cur.Exists && !cancellation && !ev.Kind.IsSweep() && !ordersAfter(ev, cur) {
		return keep(enums.LedgerOutcomeStale, "older than the recorded transition")
	}

	if !CanTransition(current, target) {
		return keep(enums.LedgerOutcomeRejected, fmt.Sprintf("illegal transition %s -> %s", current, target))
	}

	return Decision{
		Outcome: enums.LedgerOutcomeApplied,
		Next:    target,
		Effect:  EffectFor(target),
	}
}

func (m *Machine) target(ev Event) (enums.SubscriptionStatus, error) {
	switch ev.Kind {
	case enums.BillingEventCheckoutCompleted:
		if ev.Details.Mode == CheckoutModePayment {
			return enums.SubscriptionStatusActive, nil
		}
		if ev.Details.TrialEnd != nil && ev.Details.TrialEnd.After(ev.OccurredAt) {
			return enums.SubscriptionStatusTrialing, nil
		}
		return enums.SubscriptionStatusActive, nil
	case enums.BillingEventSubscriptionCreated, enums.BillingEventSubscriptionUpdated:
		status, ok := ProviderStatusTarget(ev.Details.ProviderStatus)
		if !ok {
			return "", fmt.Errorf("unmapped provider status %q", ev.Details.ProviderStatus)
		}
		return status, nil
	case enums.BillingEventSubscriptionDeleted:
		return enums.SubscriptionStatusCanceled, nil
	case enums.BillingEventPaymentFailed:
		return enums.SubscriptionStatusPastDue, nil
	case enums.BillingEventPaymentSucceeded:
		return enums.SubscriptionStatusActive, nil
	case enums.BillingEventTrialExpired:
		return m.policy.TrialExpiry, nil
	case enums.BillingEventGraceExpired:
		return enums.SubscriptionStatusCanceled, nil
	default:
		return "", fmt.Errorf("unsupported event kind %q", ev.Kind)
	}
}

// sweepApplies checks that the deadline a sweep marker was cut for still holds.
func (m *Machine) sweepApplies(cur State, current enums.SubscriptionStatus, ev Event) (string, bool) {
	if !cur.Exists {
		return "no subscription record", false
	}
	var (
		want     enums.SubscriptionStatus
		deadline *time.Time
	)
	switch ev.Kind {
	case enums.BillingEventTrialExpired:
		want, deadline = enums.SubscriptionStatusTrialing, cur.TrialEnd
	case enums.BillingEventGraceExpired:
		want, deadline = enums.SubscriptionStatusPastDue, cur.GraceEnd
	}
	if current != want {
		return fmt.Sprintf("subscription is %s, not %s", current, want), false
	}
	if deadline == nil || ev.Details.Deadline == nil || !deadline.Equal(*ev.Details.Deadline) {
		return "deadline moved since the sweep was scheduled", false
	}
	return "", true
}

// ordersAfter is the lexicographic (timestamp, ledger sequence) gate.
func ordersAfter(ev Event, cur State) bool {
	if ev.OccurredAt.After(cur.LastEventAt) {
		return true
	}
	if ev.OccurredAt.Before(cur.LastEventAt) {
		return false
	}
	return ev.Seq >= cur.LastEventSeq
}
