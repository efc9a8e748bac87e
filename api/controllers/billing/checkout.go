package billing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlement-engine/api/middleware"
	"github.com/angelmondragon/entitlement-engine/api/responses"
	"github.com/angelmondragon/entitlement-engine/api/validators"
	"github.com/angelmondragon/entitlement-engine/internal/customers"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

type customerEnsurer interface {
	Ensure(ctx context.Context, input customers.EnsureInput) (*models.Customer, error)
}

type checkoutRequest struct {
	Email string `json:"email" validate:"omitempty,email,max=320"`
}

type checkoutResponse struct {
	CustomerID        string `json:"customer_id"`
	ClientReferenceID string `json:"client_reference_id"`
	BillingCustomerID string `json:"billing_customer_id,omitempty"`
}

// Checkout prepares the caller for a provider checkout session.
// The returned client_reference_id must be set on the session so the completion event can be linked.
func Checkout(svc customerEnsurer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		customerID, err := uuid.Parse(middleware.CustomerIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity required"))
			return
		}

		var req checkoutRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		customer, err := svc.Ensure(ctx, customers.EnsureInput{
			CustomerID:        customerID,
			BillingCustomerID: middleware.BillingCustomerIDFromContext(ctx),
			Email:             validators.SanitizeString(req.Email, 320),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := checkoutResponse{
			CustomerID:        customer.ID.String(),
			ClientReferenceID: customer.ID.String(),
		}
		if customer.BillingCustomerID != nil {
			resp.BillingCustomerID = *customer.BillingCustomerID
		}
		responses.WriteSuccess(w, resp)
	}
}
