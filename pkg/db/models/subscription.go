package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlement-engine/pkg/enums"
)

// Subscription is the authoritative lifecycle record for one provider subscription.
type Subscription struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	SubscriptionID    string                   `gorm:"column:subscription_id;not null;uniqueIndex:ux_subscriptions_subscription_id"`
	CustomerID        uuid.UUID                `gorm:"column:customer_id;type:uuid;not null;index:ix_subscriptions_customer_id"`
	Status            enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'none'"`
	PlanTier          enums.PlanTier           `gorm:"column:plan_tier;not null;default:'none'"`
	PlanName          *string                  `gorm:"column:plan_name"`
	PriceAmount       decimal.NullDecimal      `gorm:"column:price_amount;type:numeric(12,2)"`
	Currency          *string                  `gorm:"column:currency"`
	CurrentPeriodEnd  *time.Time               `gorm:"column:current_period_end"`
	TrialEnd          *time.Time               `gorm:"column:trial_end"`
	GraceEnd          *time.Time               `gorm:"column:grace_end"`
	CancelAtPeriodEnd bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt        *time.Time               `gorm:"column:canceled_at"`
	LastEventID       string                   `gorm:"column:last_event_id;not null"`
	LastEventAt       time.Time                `gorm:"column:last_event_at;not null"`
	LastEventSeq      int64                    `gorm:"column:last_event_seq;not null;default:0"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
