package controllers

import (
	"net/http"

	"github.com/angelmondragon/entitlement-engine/api/middleware"
	"github.com/angelmondragon/entitlement-engine/api/responses"
)

// PremiumPing is a minimal entitlement-protected route used to probe the gate end to end.
func PremiumPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"scope": "premium", "status": "ok"}
		if result, ok := middleware.EntitlementFromContext(r.Context()); ok {
			payload["access"] = result.Access
			payload["subscription_status"] = result.Status
		}
		responses.WriteSuccess(w, payload)
	}
}
