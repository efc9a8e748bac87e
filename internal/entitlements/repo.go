package entitlements

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlement-engine/internal/repo"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
)

// Repository manages persistence for entitlement snapshots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, customerID uuid.UUID) (*models.EntitlementSnapshot, error)
	Upsert(ctx context.Context, snapshot *models.EntitlementSnapshot) error
}

type repository struct {
	repo.Base
}

// NewRepository returns a snapshot repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Get(ctx context.Context, customerID uuid.UUID) (*models.EntitlementSnapshot, error) {
	return repo.First[models.EntitlementSnapshot](r.DB(ctx).Where("customer_id = ?", customerID))
}

func (r *repository) Upsert(ctx context.Context, snapshot *models.EntitlementSnapshot) error {
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "customer_id"}},
			UpdateAll: true,
		}).
		Create(snapshot).Error
}
