package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlement-engine/api/responses"
	"github.com/angelmondragon/entitlement-engine/internal/entitlements"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

const (
	entitlementWarningHeader            = "X-Entitlement-Warning"
	ctxEntitlement           contextKey = "entitlement"
)

type entitlementChecker interface {
	Check(ctx context.Context, customerID uuid.UUID) (entitlements.Result, error)
}

// RequireEntitlement denies requests from customers without paid access.
// An unresolvable check is a denial too, reported as 503 so callers can retry.
func RequireEntitlement(gate entitlementChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			customerID, err := uuid.Parse(CustomerIDFromContext(ctx))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity required"))
				return
			}

			result, err := gate.Check(ctx, customerID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "entitlement check unavailable"))
				return
			}
			if !result.HasAccess() {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodePaymentRequired, "an active subscription is required").
					WithDetails(map[string]any{"status": result.Status, "access": result.Access}))
				return
			}
			if result.Warning {
				w.Header().Set(entitlementWarningHeader, string(result.Status))
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxEntitlement, result)))
		})
	}
}

// EntitlementFromContext returns the gate result attached by RequireEntitlement.
func EntitlementFromContext(ctx context.Context) (entitlements.Result, bool) {
	if ctx == nil {
		return entitlements.Result{}, false
	}
	result, ok := ctx.Value(ctxEntitlement).(entitlements.Result)
	return result, ok
}
