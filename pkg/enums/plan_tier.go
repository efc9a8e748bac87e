package enums

import "strings"

// PlanTier names the paid tier a subscription grants.
type PlanTier string

const (
	PlanTierNone     PlanTier = "none"
	PlanTierStandard PlanTier = "standard"
	PlanTierLifetime PlanTier = "lifetime"
)

func (p PlanTier) String() string {
	return string(p)
}

// ParsePlanTier normalizes a tier label, defaulting to standard for unlabeled paid plans.
func ParsePlanTier(value string) PlanTier {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return PlanTierStandard
	}
	return PlanTier(normalized)
}
