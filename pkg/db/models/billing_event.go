package models

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/entitlement-engine/pkg/enums"
)

// BillingEvent is an append-only ledger entry for a provider webhook or a sweep marker.
// Seq is the persisted insertion order used to break timestamp ties.
type BillingEvent struct {
	Seq             int64                  `gorm:"column:seq;primaryKey;autoIncrement"`
	ProviderEventID string                 `gorm:"column:provider_event_id;not null;uniqueIndex:ux_billing_events_provider_event_id"`
	Source          enums.LedgerSource     `gorm:"column:source;type:ledger_source;not null"`
	EventType       string                 `gorm:"column:event_type;not null"`
	Kind            enums.BillingEventKind `gorm:"column:kind"`
	SubscriptionID  *string                `gorm:"column:subscription_id;index:ix_billing_events_subscription_id"`
	CustomerRef     *string                `gorm:"column:customer_ref"`
	OccurredAt      time.Time              `gorm:"column:occurred_at;not null"`
	Payload         json.RawMessage        `gorm:"column:payload;type:jsonb;not null"`
	Outcome         enums.LedgerOutcome    `gorm:"column:outcome;type:ledger_outcome;not null;default:'pending';index:ix_billing_events_outcome"`
	Applied         bool                   `gorm:"column:applied;not null;default:false"`
	AppliedAt       *time.Time             `gorm:"column:applied_at"`
	Reason          *string                `gorm:"column:reason"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
}
