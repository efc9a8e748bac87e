package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/entitlement-engine/internal/repo"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
)

// Repository manages persistence for billing ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, entry *models.BillingEvent) (bool, error)
	FindByProviderEventID(ctx context.Context, providerEventID string) (*models.BillingEvent, error)
	Resolve(ctx context.Context, providerEventID string, outcome enums.LedgerOutcome, reason *string, at time.Time) (bool, error)
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]models.BillingEvent, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

// InsertIfAbsent inserts the entry unless its provider event id already exists.
// The boolean reports whether this call created the row.
func (r *repository) InsertIfAbsent(ctx context.Context, entry *models.BillingEvent) (bool, error) {
	res := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindByProviderEventID(ctx context.Context, providerEventID string) (*models.BillingEvent, error) {
	return repo.First[models.BillingEvent](r.DB(ctx).Where("provider_event_id = ?", providerEventID))
}

// Resolve flips a pending entry to its final outcome. It reports false when the
// entry was already resolved by someone else.
func (r *repository) Resolve(ctx context.Context, providerEventID string, outcome enums.LedgerOutcome, reason *string, at time.Time) (bool, error) {
	res := r.DB(ctx).
		Model(&models.BillingEvent{}).
		Where("provider_event_id = ? AND outcome = ?", providerEventID, enums.LedgerOutcomePending).
		Updates(map[string]any{
			"outcome":    outcome,
			"applied":    true,
			"applied_at": at,
			"reason":     reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]models.BillingEvent, error) {
	var rows []models.BillingEvent
	err := r.DB(ctx).
		Where("outcome = ? AND created_at <= ?", enums.LedgerOutcomePending, createdBefore).
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
