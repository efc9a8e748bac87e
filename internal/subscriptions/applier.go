package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlement-engine/internal/customers"
	"github.com/angelmondragon/entitlement-engine/internal/entitlements"
	"github.com/angelmondragon/entitlement-engine/internal/ledger"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
	"github.com/angelmondragon/entitlement-engine/pkg/metrics"
	"github.com/angelmondragon/entitlement-engine/pkg/outbox"
	"github.com/angelmondragon/entitlement-engine/pkg/outbox/payloads"
)

// Outcome is what a submission ended up doing, as reported to the sender.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeRejected  Outcome = "rejected"
	OutcomeIgnored   Outcome = "ignored"
)

// Submission is one event headed for the ledger and the state machine.
// An empty Kind records the event as ignored.
type Submission struct {
	Event       Event
	EventType   string
	CustomerRef string
	Payload     json.RawMessage
}

// Result is the acknowledgement for a submission.
type Result struct {
	EventID  string
	Outcome  Outcome
	Status   enums.SubscriptionStatus
	Reason   string
	Snapshot *models.EntitlementSnapshot
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type snapshotPublisher interface {
	Publish(ctx context.Context, snapshot models.EntitlementSnapshot) error
}

// ApplierParams groups dependencies for the applier.
type ApplierParams struct {
	Ledger            ledger.Service
	Subscriptions     Repository
	Customers         customers.Service
	Snapshots         entitlements.Repository
	Outbox            outboxEmitter
	Publisher         snapshotPublisher
	Machine           *Machine
	Locker            Locker
	TransactionRunner txRunner
	Metrics           *metrics.BillingMetrics
	Logger            *logger.Logger
}

// Applier is the single path through which subscription records and entitlement
// snapshots change. Webhooks, sweeps and ledger replay all submit here.
type Applier struct {
	ledger    ledger.Service
	subs      Repository
	customers customers.Service
	snapshots entitlements.Repository
	outbox    outboxEmitter
	publisher snapshotPublisher
	machine   *Machine
	locker    Locker
	txRunner  txRunner
	metrics   *metrics.BillingMetrics
	logg      *logger.Logger
}

// NewApplier validates dependencies and builds an applier.
func NewApplier(params ApplierParams) (*Applier, error) {
	switch {
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Subscriptions == nil:
		return nil, fmt.Errorf("subscription repository required")
	case params.Customers == nil:
		return nil, fmt.Errorf("customer service required")
	case params.Snapshots == nil:
		return nil, fmt.Errorf("snapshot repository required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Machine == nil:
		return nil, fmt.Errorf("state machine required")
	case params.TransactionRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	}
	locker := params.Locker
	if locker == nil {
		locker = NewExclusiveSection(nil)
	}
	return &Applier{
		ledger:    params.Ledger,
		subs:      params.Subscriptions,
		customers: params.Customers,
		snapshots: params.Snapshots,
		outbox:    params.Outbox,
		publisher: params.Publisher,
		machine:   params.Machine,
		locker:    locker,
		txRunner:  params.TransactionRunner,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

// Submit records the event in the ledger and, unless it was already resolved, applies it.
// Failures after the ledger write leave the entry pending so a redelivery resumes it.
func (a *Applier) Submit(ctx context.Context, sub Submission) (*Result, error) {
	ev := sub.Event
	if strings.TrimSpace(ev.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	if ev.Source == "" {
		ev.Source = enums.LedgerSourceProvider
	}
	if a.logg != nil {
		ctx = a.logg.WithFields(ctx, map[string]any{
			"event_id":        ev.ID,
			"subscription_id": ev.SubscriptionID,
			"event_kind":      string(ev.Kind),
			"source":          string(ev.Source),
		})
	}
	started := time.Now()

	if ev.Kind == "" {
		result, err := a.ignore(ctx, ev, sub)
		a.finish(ctx, ev, result, err, started)
		return result, err
	}
	if !ev.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown event kind %q", ev.Kind))
	}
	if strings.TrimSpace(ev.SubscriptionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}

	unlock, err := a.locker.Lock(ctx, ev.SubscriptionID)
	a.metrics.ObserveLockWait(time.Since(started))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enter subscription exclusive section")
	}
	defer unlock()

	recorded, err := a.ledger.Record(ctx, recordInput(ev, sub))
	if err != nil {
		a.finish(ctx, ev, nil, err, started)
		return nil, err
	}
	if recorded.Status == ledger.RecordDuplicate {
		result := &Result{EventID: ev.ID, Outcome: OutcomeDuplicate, Reason: string(recorded.Entry.Outcome)}
		a.finish(ctx, ev, result, nil, started)
		return result, nil
	}
	ev.Seq = recorded.Entry.Seq
	ev.OccurredAt = recorded.Entry.OccurredAt

	result, err := a.apply(ctx, ev)
	a.finish(ctx, ev, result, err, started)
	return result, err
}

func (a *Applier) ignore(ctx context.Context, ev Event, sub Submission) (*Result, error) {
	recorded, err := a.ledger.Record(ctx, recordInput(ev, sub))
	if err != nil {
		return nil, err
	}
	if recorded.Status == ledger.RecordDuplicate {
		return &Result{EventID: ev.ID, Outcome: OutcomeDuplicate, Reason: string(recorded.Entry.Outcome)}, nil
	}
	reason := fmt.Sprintf("unsupported event type %q", sub.EventType)
	err = a.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return a.ledger.MarkApplied(ctx, tx, ev.ID, enums.LedgerOutcomeIgnored, reason)
	})
	if err != nil {
		return nil, asDependency(err, "mark ignored event")
	}
	return &Result{EventID: ev.ID, Outcome: OutcomeIgnored, Reason: reason}, nil
}

func (a *Applier) apply(ctx context.Context, ev Event) (*Result, error) {
	var result *Result

	err := a.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		result = nil
		subs := a.subs.WithTx(tx)

		rec, err := subs.FindForUpdate(ctx, ev.SubscriptionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}

		decision := a.machine.Transition(StateOf(rec), ev)
		if !decision.Applied() {
			result = &Result{EventID: ev.ID, Outcome: Outcome(decision.Outcome), Status: decision.Next, Reason: decision.Reason}
			return a.ledger.MarkApplied(ctx, tx, ev.ID, decision.Outcome, decision.Reason)
		}

		if rec == nil {
			customer, err := a.customers.Resolve(ctx, tx, ev.Details.BillingCustomerID, ev.Details.ClientReferenceID)
			if err != nil {
				if pkgerrors.IsRetryable(err) {
					return err
				}
				reason := fmt.Sprintf("customer unresolved: %v", err)
				result = &Result{EventID: ev.ID, Outcome: OutcomeRejected, Status: enums.SubscriptionStatusNone, Reason: reason}
				return a.ledger.MarkApplied(ctx, tx, ev.ID, enums.LedgerOutcomeRejected, reason)
			}
			rec = &models.Subscription{
				SubscriptionID: ev.SubscriptionID,
				CustomerID:     customer.ID,
				Status:         enums.SubscriptionStatusNone,
				PlanTier:       enums.PlanTierNone,
			}
		}

		previous := rec.Status
		applyDecision(rec, ev, decision, a.machine.Policy())
		if err := subs.Save(ctx, rec); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save subscription")
		}

		snapshot, err := a.project(ctx, tx, rec.CustomerID, ev.ID)
		if err != nil {
			return err
		}

		if err := a.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEntitlementChanged,
			AggregateType: enums.AggregateCustomer,
			AggregateID:   rec.CustomerID,
			Origin:        &outbox.Origin{Source: ev.Source, EventID: ev.ID},
			OccurredAt:    ev.OccurredAt,
			Data: payloads.EntitlementChangedEvent{
				CustomerID:     rec.CustomerID,
				SubscriptionID: rec.SubscriptionID,
				PreviousStatus: previous,
				Status:         rec.Status,
				Access:         snapshot.Access,
				PlanTier:       snapshot.PlanTier,
				ValidUntil:     snapshot.ValidUntil,
				Warning:        snapshot.Warning,
				Version:        snapshot.Version,
				SourceEventID:  ev.ID,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue entitlement change")
		}

		if err := a.ledger.MarkApplied(ctx, tx, ev.ID, enums.LedgerOutcomeApplied, ""); err != nil {
			return err
		}
		result = &Result{EventID: ev.ID, Outcome: OutcomeApplied, Status: rec.Status, Snapshot: &snapshot}
		return nil
	})
	if err != nil {
		return nil, asDependency(err, "apply billing event")
	}

	if result.Snapshot != nil && a.publisher != nil {
		if err := a.publisher.Publish(ctx, *result.Snapshot); err != nil && a.logg != nil {
			a.logg.Warn(ctx, fmt.Sprintf("entitlement cache publish failed: %v", err))
		}
	}
	return result, nil
}

func (a *Applier) project(ctx context.Context, tx *gorm.DB, customerID uuid.UUID, sourceEventID string) (models.EntitlementSnapshot, error) {
	records, err := a.subs.WithTx(tx).ListByCustomer(ctx, customerID)
	if err != nil {
		return models.EntitlementSnapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list customer subscriptions")
	}
	snapshots := a.snapshots.WithTx(tx)
	prev, err := snapshots.Get(ctx, customerID)
	if err != nil {
		return models.EntitlementSnapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load entitlement snapshot")
	}
	snapshot := Project(customerID, records, prev, sourceEventID)
	if err := snapshots.Upsert(ctx, &snapshot); err != nil {
		return models.EntitlementSnapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write entitlement snapshot")
	}
	return snapshot, nil
}

func (a *Applier) finish(ctx context.Context, ev Event, result *Result, err error, started time.Time) {
	a.metrics.ObserveApply(string(ev.Source), time.Since(started))
	if err != nil {
		a.metrics.IncEvent(string(ev.Source), "error")
		if a.logg != nil {
			a.logg.Error(ctx, "billing event apply failed", err)
		}
		return
	}
	a.metrics.IncEvent(string(ev.Source), string(result.Outcome))
	if a.logg == nil {
		return
	}
	logCtx := a.logg.WithFields(ctx, map[string]any{
		"outcome": string(result.Outcome),
		"status":  string(result.Status),
	})
	switch result.Outcome {
	case OutcomeRejected:
		logCtx = a.logg.WithField(logCtx, "manual_inspection", true)
		a.logg.Warn(logCtx, fmt.Sprintf("billing event rejected: %s", result.Reason))
	case OutcomeStale:
		a.logg.Info(logCtx, fmt.Sprintf("billing event stale: %s", result.Reason))
	default:
		a.logg.Info(logCtx, "billing event processed")
	}
}

func recordInput(ev Event, sub Submission) ledger.RecordInput {
	eventType := sub.EventType
	if eventType == "" {
		eventType = string(ev.Kind)
	}
	return ledger.RecordInput{
		ProviderEventID: ev.ID,
		Source:          ev.Source,
		EventType:       eventType,
		Kind:            ev.Kind,
		SubscriptionID:  ev.SubscriptionID,
		CustomerRef:     sub.CustomerRef,
		OccurredAt:      ev.OccurredAt,
		Payload:         sub.Payload,
	}
}

func asDependency(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
