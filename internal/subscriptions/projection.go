package subscriptions

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
)

var accessRank = map[enums.EntitlementAccess]int{
	enums.EntitlementAccessFull:  2,
	enums.EntitlementAccessGrace: 1,
	enums.EntitlementAccessNone:  0,
}

// Project rebuilds a customer's entitlement snapshot from all of their subscription records.
// The record granting the strongest access wins; ties go to the most recently transitioned one.
func Project(customerID uuid.UUID, records []models.Subscription, prev *models.EntitlementSnapshot, sourceEventID string) models.EntitlementSnapshot {
	snapshot := models.EntitlementSnapshot{
		CustomerID:    customerID,
		Status:        enums.SubscriptionStatusNone,
		Access:        enums.EntitlementAccessNone,
		PlanTier:      enums.PlanTierNone,
		SourceEventID: sourceEventID,
		Version:       1,
	}
	if prev != nil {
		snapshot.Version = prev.Version + 1
	}

	best := pickBest(records)
	if best == nil {
		return snapshot
	}

	effect := EffectFor(best.Status)
	snapshot.Status = best.Status
	snapshot.Access = effect.Access
	snapshot.Warning = effect.Warning
	snapshot.SubscriptionID = stringPtr(best.SubscriptionID)
	snapshot.ValidUntil = validUntil(best)
	snapshot.PlanTier = best.PlanTier
	if !effect.Access.GrantsAccess() {
		snapshot.PlanTier = enums.PlanTierNone
	}
	return snapshot
}

func pickBest(records []models.Subscription) *models.Subscription {
	var best *models.Subscription
	for i := range records {
		candidate := &records[i]
		if best == nil {
			best = candidate
			continue
		}
		cr, br := accessRank[EffectFor(candidate.Status).Access], accessRank[EffectFor(best.Status).Access]
		if cr > br || (cr == br && candidate.LastEventAt.After(best.LastEventAt)) {
			best = candidate
		}
	}
	return best
}

func validUntil(rec *models.Subscription) *time.Time {
	switch rec.Status {
	case enums.SubscriptionStatusTrialing:
		if rec.TrialEnd != nil {
			return rec.TrialEnd
		}
		return rec.CurrentPeriodEnd
	case enums.SubscriptionStatusActive:
		if rec.PlanTier == enums.PlanTierLifetime {
			return nil
		}
		return rec.CurrentPeriodEnd
	case enums.SubscriptionStatusPastDue:
		return rec.GraceEnd
	default:
		return nil
	}
}
