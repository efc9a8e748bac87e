package customers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/entitlement-engine/pkg/db"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
)

// EnsureInput identifies the principal starting a checkout.
type EnsureInput struct {
	CustomerID        uuid.UUID
	BillingCustomerID string
	Email             string
}

// Service defines the customer identity operations used by billing flows.
type Service interface {
	Ensure(ctx context.Context, input EnsureInput) (*models.Customer, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	// Resolve finds the internal customer an inbound event belongs to, linking the
	// provider id on first sight when a client reference is available.
	Resolve(ctx context.Context, tx *gorm.DB, billingCustomerID, clientReferenceID string) (*models.Customer, error)
}

type service struct {
	repo Repository
}

// NewService wires a customer service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("customer repository required")
	}
	return &service{repo: repo}, nil
}

// Ensure creates the customer row on first checkout and is a no-op afterwards.
func (s *service) Ensure(ctx context.Context, input EnsureInput) (*models.Customer, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	customer := &models.Customer{ID: input.CustomerID}
	if email := strings.TrimSpace(input.Email); email != "" {
		customer.Email = &email
	}
	if err := s.repo.CreateIfAbsent(ctx, customer); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create customer")
	}

	if billingID := strings.TrimSpace(input.BillingCustomerID); billingID != "" {
		if err := s.link(ctx, s.repo, input.CustomerID, billingID); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, input.CustomerID)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	customer, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	return customer, nil
}

func (s *service) Resolve(ctx context.Context, tx *gorm.DB, billingCustomerID, clientReferenceID string) (*models.Customer, error) {
	repo := s.repo.WithTx(tx)
	billingCustomerID = strings.TrimSpace(billingCustomerID)
	clientReferenceID = strings.TrimSpace(clientReferenceID)

	if clientReferenceID != "" {
		id, err := uuid.Parse(clientReferenceID)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "client reference id is not a customer id")
		}
		customer, err := repo.FindByID(ctx, id)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
		}
		if customer != nil {
			if billingCustomerID != "" && customer.BillingCustomerID == nil {
				if err := s.link(ctx, repo, customer.ID, billingCustomerID); err != nil {
					return nil, err
				}
				customer.BillingCustomerID = &billingCustomerID
			}
			return customer, nil
		}
	}

	if billingCustomerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event carries no customer reference")
	}
	customer, err := repo.FindByBillingID(ctx, billingCustomerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer by billing id")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no customer linked to billing id").
			WithDetails(map[string]any{"billing_customer_id": billingCustomerID})
	}
	return customer, nil
}

func (s *service) link(ctx context.Context, repo Repository, id uuid.UUID, billingCustomerID string) error {
	linked, err := repo.LinkBillingID(ctx, id, billingCustomerID)
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return pkgerrors.New(pkgerrors.CodeConflict, "billing customer id already linked to another customer")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link billing customer id")
	}
	if linked {
		return nil
	}
	existing, err := repo.FindByID(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	if existing == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	if existing.BillingCustomerID != nil && *existing.BillingCustomerID != billingCustomerID {
		return pkgerrors.New(pkgerrors.CodeConflict, "customer already linked to a different billing id")
	}
	return nil
}
