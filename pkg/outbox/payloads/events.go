package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlement-engine/pkg/enums"
)

// EntitlementChangedEvent is emitted whenever an applied transition rebuilds a customer's snapshot.
type EntitlementChangedEvent struct {
	CustomerID     uuid.UUID                `json:"customer_id"`
	SubscriptionID string                   `json:"subscription_id"`
	PreviousStatus enums.SubscriptionStatus `json:"previous_status"`
	Status         enums.SubscriptionStatus `json:"status"`
	Access         enums.EntitlementAccess  `json:"access"`
	PlanTier       enums.PlanTier           `json:"plan_tier"`
	ValidUntil     *time.Time               `json:"valid_until,omitempty"`
	Warning        bool                     `json:"warning"`
	Version        int64                    `json:"version"`
	SourceEventID  string                   `json:"source_event_id"`
}
