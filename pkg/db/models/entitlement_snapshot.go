package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlement-engine/pkg/enums"
)

// EntitlementSnapshot is the per-customer projection read by the entitlement gate.
type EntitlementSnapshot struct {
	CustomerID     uuid.UUID                `gorm:"column:customer_id;type:uuid;primaryKey"`
	Status         enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null"`
	Access         enums.EntitlementAccess  `gorm:"column:access;type:entitlement_access;not null"`
	PlanTier       enums.PlanTier           `gorm:"column:plan_tier;not null"`
	SubscriptionID *string                  `gorm:"column:subscription_id"`
	ValidUntil     *time.Time               `gorm:"column:valid_until"`
	Warning        bool                     `gorm:"column:warning;not null;default:false"`
	SourceEventID  string                   `gorm:"column:source_event_id;not null"`
	Version        int64                    `gorm:"column:version;not null"`
	UpdatedAt      time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
