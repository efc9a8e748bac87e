package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlement-engine/api/middleware"
	"github.com/angelmondragon/entitlement-engine/api/responses"
	"github.com/angelmondragon/entitlement-engine/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

type statusReader interface {
	Status(ctx context.Context, customerID uuid.UUID) (subscriptions.StatusView, error)
}

// SubscriptionStatus returns the caller's subscription summary.
func SubscriptionStatus(reader statusReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		customerID, err := uuid.Parse(middleware.CustomerIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity required"))
			return
		}
		view, err := reader.Status(ctx, customerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
