package middleware

import (
	"context"
	"net/http"

	"github.com/angelmondragon/entitlement-engine/api/responses"
	"github.com/angelmondragon/entitlement-engine/api/validators"
	pkgAuth "github.com/angelmondragon/entitlement-engine/pkg/auth"
	"github.com/angelmondragon/entitlement-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the customer identity.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := validators.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxCustomerID, claims.CustomerID.String())
			if claims.BillingCustomerID != "" {
				ctx = context.WithValue(ctx, ctxBillingCustomerID, claims.BillingCustomerID)
			}
			if logg != nil {
				ctx = logg.WithCustomerID(ctx, claims.CustomerID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
