package enums

import "fmt"

// EntitlementAccess is the access level granted by a subscription status.
type EntitlementAccess string

const (
	EntitlementAccessFull  EntitlementAccess = "full"
	EntitlementAccessGrace EntitlementAccess = "grace"
	EntitlementAccessNone  EntitlementAccess = "none"
)

var validEntitlementAccess = []EntitlementAccess{
	EntitlementAccessFull,
	EntitlementAccessGrace,
	EntitlementAccessNone,
}

func (a EntitlementAccess) String() string {
	return string(a)
}

func (a EntitlementAccess) IsValid() bool {
	for _, candidate := range validEntitlementAccess {
		if candidate == a {
			return true
		}
	}
	return false
}

// GrantsAccess reports whether paid features are reachable at this level.
func (a EntitlementAccess) GrantsAccess() bool {
	return a == EntitlementAccessFull || a == EntitlementAccessGrace
}

func ParseEntitlementAccess(value string) (EntitlementAccess, error) {
	for _, candidate := range validEntitlementAccess {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entitlement access %q", value)
}
