package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlement-engine/internal/repo"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
)

// Repository manages persistence for subscription records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindForUpdate(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	Save(ctx context.Context, rec *models.Subscription) error
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Subscription, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

// FindForUpdate loads the record and row-locks it for the rest of the transaction.
func (r *repository) FindForUpdate(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	return repo.First[models.Subscription](r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("subscription_id = ?", subscriptionID))
}

func (r *repository) Save(ctx context.Context, rec *models.Subscription) error {
	if rec.ID == uuid.Nil {
		return r.DB(ctx).Create(rec).Error
	}
	return r.DB(ctx).Save(rec).Error
}

func (r *repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Subscription, error) {
	var rows []models.Subscription
	err := r.DB(ctx).
		Where("customer_id = ?", customerID).
		Order("last_event_at DESC").
		Find(&rows).Error
	return rows, err
}

// ListExpired returns trials and grace periods whose deadline passed at or before now, oldest deadline first.
func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []models.Subscription
	err := r.DB(ctx).
		Where("(status = ? AND trial_end IS NOT NULL AND trial_end <= ?) OR (status = ? AND grace_end IS NOT NULL AND grace_end <= ?)",
			enums.SubscriptionStatusTrialing, now,
			enums.SubscriptionStatusPastDue, now).
		Order("COALESCE(grace_end, trial_end) ASC").
		Order("subscription_id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
