package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlement-engine/api/middleware"
	"github.com/angelmondragon/entitlement-engine/api/responses"
	"github.com/angelmondragon/entitlement-engine/internal/entitlements"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

type entitlementChecker interface {
	Check(ctx context.Context, customerID uuid.UUID) (entitlements.Result, error)
}

// EntitlementsMe returns the caller's current entitlement, including the staleness flag.
func EntitlementsMe(gate entitlementChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := uuid.Parse(middleware.CustomerIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity required"))
			return
		}
		result, err := gate.Check(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "entitlement check unavailable"))
			return
		}
		responses.WriteSuccess(w, result)
	}
}
