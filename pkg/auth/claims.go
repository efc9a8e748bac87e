package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the identity an upstream auth service encodes in a token.
type AccessTokenPayload struct {
	CustomerID        uuid.UUID
	BillingCustomerID string
	JTI               string
}

// AccessTokenClaims represents the typed JWT presented by callers.
type AccessTokenClaims struct {
	CustomerID        uuid.UUID `json:"customer_id"`
	BillingCustomerID string    `json:"billing_customer_id,omitempty"`
	jwt.RegisteredClaims
}
