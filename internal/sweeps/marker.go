package sweeps

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlement-engine/internal/subscriptions"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
)

// markerPayload is what a sweep marker stores in the ledger payload column.
type markerPayload struct {
	Sweep          string    `json:"sweep"`
	CustomerID     uuid.UUID `json:"customer_id"`
	SubscriptionID string    `json:"subscription_id"`
	Deadline       time.Time `json:"deadline"`
}

// MarkerID builds the ledger key for a sweep transition. The same deadline always yields the same key.
func MarkerID(kind enums.BillingEventKind, customerID uuid.UUID, deadline time.Time) string {
	return fmt.Sprintf("sweep:%s:%s:%d", sweepType(kind), customerID, deadline.Unix())
}

func sweepType(kind enums.BillingEventKind) string {
	return strings.TrimPrefix(string(kind), "sweep.")
}

// MarkerFor returns the synthetic transition owed by rec at now, if any.
func MarkerFor(rec models.Subscription, now time.Time) (subscriptions.Submission, bool) {
	if rec.PlanTier == enums.PlanTierLifetime {
		return subscriptions.Submission{}, false
	}

	var (
		kind     enums.BillingEventKind
		deadline *time.Time
	)
	switch rec.Status {
	case enums.SubscriptionStatusTrialing:
		kind, deadline = enums.BillingEventTrialExpired, rec.TrialEnd
	case enums.SubscriptionStatusPastDue:
		kind, deadline = enums.BillingEventGraceExpired, rec.GraceEnd
	default:
		return subscriptions.Submission{}, false
	}
	if deadline == nil || deadline.After(now) {
		return subscriptions.Submission{}, false
	}

	return buildMarker(kind, rec.CustomerID, rec.SubscriptionID, deadline.UTC()), true
}

// MarkerFromEntry rebuilds a sweep submission from its ledger entry.
func MarkerFromEntry(entry models.BillingEvent) (subscriptions.Submission, error) {
	if entry.Source != enums.LedgerSourceSweep {
		return subscriptions.Submission{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("ledger entry %s is not a sweep marker", entry.ProviderEventID))
	}
	if !entry.Kind.IsSweep() {
		return subscriptions.Submission{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("sweep marker %s has kind %q", entry.ProviderEventID, entry.Kind))
	}

	var payload markerPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return subscriptions.Submission{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode sweep marker payload")
	}
	if payload.SubscriptionID == "" && entry.SubscriptionID != nil {
		payload.SubscriptionID = *entry.SubscriptionID
	}
	if payload.SubscriptionID == "" {
		return subscriptions.Submission{}, pkgerrors.New(pkgerrors.CodeValidation, "sweep marker has no subscription id")
	}
	deadline := payload.Deadline
	if deadline.IsZero() {
		deadline = entry.OccurredAt
	}

	sub := buildMarker(entry.Kind, payload.CustomerID, payload.SubscriptionID, deadline.UTC())
	sub.Event.ID = entry.ProviderEventID
	return sub, nil
}

func buildMarker(kind enums.BillingEventKind, customerID uuid.UUID, subscriptionID string, deadline time.Time) subscriptions.Submission {
	payload, _ := json.Marshal(markerPayload{
		Sweep:          sweepType(kind),
		CustomerID:     customerID,
		SubscriptionID: subscriptionID,
		Deadline:       deadline,
	})
	return subscriptions.Submission{
		Event: subscriptions.Event{
			ID:             MarkerID(kind, customerID, deadline),
			Kind:           kind,
			Source:         enums.LedgerSourceSweep,
			SubscriptionID: subscriptionID,
			OccurredAt:     deadline,
			Details:        subscriptions.Details{Deadline: &deadline},
		},
		EventType:   string(kind),
		CustomerRef: customerID.String(),
		Payload:     payload,
	}
}
