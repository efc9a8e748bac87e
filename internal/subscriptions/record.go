package subscriptions

import (
	"strings"
	"time"

	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
)

// LifetimePlanName labels one-time purchases on status surfaces.
const LifetimePlanName = "Lifetime Access"

// StateOf extracts the machine's view of a persisted record. A nil record is the initial state.
func StateOf(rec *models.Subscription) State {
	if rec == nil {
		return State{Status: enums.SubscriptionStatusNone}
	}
	return State{
		Exists:       true,
		Status:       rec.Status,
		LastEventAt:  rec.LastEventAt,
		LastEventSeq: rec.LastEventSeq,
		TrialEnd:     rec.TrialEnd,
		GraceEnd:     rec.GraceEnd,
	}
}

// applyDecision writes an applied decision and the event's target data onto rec.
func applyDecision(rec *models.Subscription, ev Event, decision Decision, policy Policy) {
	details := ev.Details
	// A late provider cancellation changes the status only; period data and the
	// ordering watermark stay with the newer event that set them.
	advances := ordersAfter(ev, StateOf(rec))
	if !advances {
		details = Details{}
	}

	if details.Mode == CheckoutModePayment {
		rec.PlanTier = enums.PlanTierLifetime
		rec.PlanName = stringPtr(LifetimePlanName)
		rec.CurrentPeriodEnd = nil
		rec.TrialEnd = nil
	} else if rec.PlanTier != enums.PlanTierLifetime {
		if details.PlanTier != "" {
			rec.PlanTier = details.PlanTier
		} else if rec.PlanTier == "" || rec.PlanTier == enums.PlanTierNone {
			rec.PlanTier = enums.PlanTierStandard
		}
		if name := strings.TrimSpace(details.PlanName); name != "" {
			rec.PlanName = &name
		}
		if details.CurrentPeriodEnd != nil {
			rec.CurrentPeriodEnd = utcPtr(*details.CurrentPeriodEnd)
		}
		if details.TrialEnd != nil {
			rec.TrialEnd = utcPtr(*details.TrialEnd)
		}
	}
	if details.PriceAmount.Valid {
		rec.PriceAmount = details.PriceAmount
	}
	if currency := strings.TrimSpace(details.Currency); currency != "" {
		currency = strings.ToLower(currency)
		rec.Currency = &currency
	}
	if details.CancelAtPeriodEnd != nil {
		rec.CancelAtPeriodEnd = *details.CancelAtPeriodEnd
	}

	rec.Status = decision.Next
	switch decision.Next {
	case enums.SubscriptionStatusPastDue:
		// Grace runs from the newest past_due event, so the deadline is fixed by the
		// event set alone and an older failure delivered late never moves it.
		if advances || rec.GraceEnd == nil {
			rec.GraceEnd = utcPtr(ev.OccurredAt.Add(policy.GracePeriod))
		}
	default:
		rec.GraceEnd = nil
	}
	if decision.Next == enums.SubscriptionStatusCanceled && rec.CanceledAt == nil {
		rec.CanceledAt = utcPtr(ev.OccurredAt)
	}

	if advances {
		rec.LastEventID = ev.ID
		rec.LastEventAt = ev.OccurredAt.UTC()
		rec.LastEventSeq = ev.Seq
	}
}

func utcPtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}

func stringPtr(s string) *string {
	return &s
}
