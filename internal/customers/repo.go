package customers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlement-engine/internal/repo"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
)

// Repository manages persistence for customers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	FindByBillingID(ctx context.Context, billingCustomerID string) (*models.Customer, error)
	CreateIfAbsent(ctx context.Context, customer *models.Customer) error
	LinkBillingID(ctx context.Context, id uuid.UUID, billingCustomerID string) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a customer repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	return repo.First[models.Customer](r.DB(ctx).Where("id = ?", id))
}

func (r *repository) FindByBillingID(ctx context.Context, billingCustomerID string) (*models.Customer, error) {
	return repo.First[models.Customer](r.DB(ctx).Where("billing_customer_id = ?", billingCustomerID))
}

func (r *repository) CreateIfAbsent(ctx context.Context, customer *models.Customer) error {
	return r.DB(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(customer).Error
}

// LinkBillingID binds the provider customer id only while the column is still empty.
func (r *repository) LinkBillingID(ctx context.Context, id uuid.UUID, billingCustomerID string) (bool, error) {
	res := r.DB(ctx).
		Model(&models.Customer{}).
		Where("id = ? AND billing_customer_id IS NULL", id).
		Update("billing_customer_id", billingCustomerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
