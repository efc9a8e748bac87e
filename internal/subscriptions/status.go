package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/entitlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
)

// StatusView is the customer-facing summary of the subscription that drives their entitlement.
type StatusView struct {
	IsSubscribed      bool                     `json:"is_subscribed"`
	SubscriptionID    string                   `json:"subscription_id,omitempty"`
	Status            enums.SubscriptionStatus `json:"status"`
	PlanTier          enums.PlanTier           `json:"plan_tier"`
	PlanName          string                   `json:"plan_name,omitempty"`
	PriceAmount       *decimal.Decimal         `json:"price_amount,omitempty"`
	Currency          string                   `json:"currency,omitempty"`
	CurrentPeriodEnd  *time.Time               `json:"current_period_end,omitempty"`
	TrialEnd          *time.Time               `json:"trial_end,omitempty"`
	GraceEnd          *time.Time               `json:"grace_end,omitempty"`
	CancelAtPeriodEnd bool                     `json:"cancel_at_period_end"`
	CanceledAt        *time.Time               `json:"canceled_at,omitempty"`
}

// StatusReader answers subscription status queries from the persisted records.
type StatusReader struct {
	repo Repository
}

func NewStatusReader(repo Repository) *StatusReader {
	return &StatusReader{repo: repo}
}

// Status picks the same record the entitlement projection would.
func (s *StatusReader) Status(ctx context.Context, customerID uuid.UUID) (StatusView, error) {
	records, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return StatusView{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list customer subscriptions")
	}
	best := pickBest(records)
	if best == nil {
		return StatusView{Status: enums.SubscriptionStatusNone, PlanTier: enums.PlanTierNone}, nil
	}

	view := StatusView{
		IsSubscribed:      EffectFor(best.Status).Access.GrantsAccess(),
		SubscriptionID:    best.SubscriptionID,
		Status:            best.Status,
		PlanTier:          best.PlanTier,
		CurrentPeriodEnd:  best.CurrentPeriodEnd,
		TrialEnd:          best.TrialEnd,
		GraceEnd:          best.GraceEnd,
		CancelAtPeriodEnd: best.CancelAtPeriodEnd,
		CanceledAt:        best.CanceledAt,
	}
	if best.PlanName != nil {
		view.PlanName = *best.PlanName
	}
	if best.PlanTier == enums.PlanTierLifetime {
		view.PlanName = LifetimePlanName
		view.CurrentPeriodEnd = nil
	}
	if best.PriceAmount.Valid {
		amount := best.PriceAmount.Decimal
		view.PriceAmount = &amount
	}
	if best.Currency != nil {
		view.Currency = *best.Currency
	}
	return view, nil
}
