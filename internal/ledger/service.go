package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
)

// RecordStatus tells the caller what to do after recording an entry.
type RecordStatus string

const (
	// RecordNew is returned to exactly one caller per provider event id.
	RecordNew RecordStatus = "new"
	// RecordDuplicate means the entry exists and has been resolved.
	RecordDuplicate RecordStatus = "duplicate"
	// RecordPending means the entry exists but its apply never completed.
	RecordPending RecordStatus = "pending"
)

// RecordInput captures the immutable data of an inbound billing event.
type RecordInput struct {
	ProviderEventID string
	Source          enums.LedgerSource
	EventType       string
	Kind            enums.BillingEventKind
	SubscriptionID  string
	CustomerRef     string
	OccurredAt      time.Time
	Payload         json.RawMessage
}

// RecordResult carries the persisted entry alongside the dedupe decision.
type RecordResult struct {
	Entry  *models.BillingEvent
	Status RecordStatus
}

// Service defines the event ledger operations.
type Service interface {
	Record(ctx context.Context, input RecordInput) (*RecordResult, error)
	MarkApplied(ctx context.Context, tx *gorm.DB, providerEventID string, outcome enums.LedgerOutcome, reason string) error
	Get(ctx context.Context, providerEventID string) (*models.BillingEvent, error)
	ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]models.BillingEvent, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Record(ctx context.Context, input RecordInput) (*RecordResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	payload := input.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	entry := &models.BillingEvent{
		ProviderEventID: input.ProviderEventID,
		Source:          input.Source,
		EventType:       input.EventType,
		Kind:            input.Kind,
		SubscriptionID:  optional(input.SubscriptionID),
		CustomerRef:     optional(input.CustomerRef),
		OccurredAt:      input.OccurredAt.UTC(),
		Payload:         payload,
		Outcome:         enums.LedgerOutcomePending,
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, entry)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger entry")
	}
	if inserted {
		return &RecordResult{Entry: entry, Status: RecordNew}, nil
	}

	existing, err := s.repo.FindByProviderEventID(ctx, input.ProviderEventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger entry vanished after conflict")
	}
	status := RecordDuplicate
	if existing.Outcome == enums.LedgerOutcomePending {
		status = RecordPending
	}
	return &RecordResult{Entry: existing, Status: status}, nil
}

// MarkApplied resolves a pending entry inside the apply transaction.
func (s *service) MarkApplied(ctx context.Context, tx *gorm.DB, providerEventID string, outcome enums.LedgerOutcome, reason string) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if !outcome.IsResolved() {
		return fmt.Errorf("invalid ledger outcome %q", outcome)
	}
	resolved, err := s.repo.WithTx(tx).Resolve(ctx, providerEventID, outcome, optional(reason), s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark ledger entry")
	}
	if !resolved {
		return pkgerrors.New(pkgerrors.CodeConflict, "ledger entry already resolved").
			WithDetails(map[string]any{"provider_event_id": providerEventID})
	}
	return nil
}

func (s *service) Get(ctx context.Context, providerEventID string) (*models.BillingEvent, error) {
	entry, err := s.repo.FindByProviderEventID(ctx, providerEventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	return entry, nil
}

// ListPending returns entries stuck between record and apply for longer than olderThan.
func (s *service) ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]models.BillingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.repo.ListPending(ctx, s.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending ledger entries")
	}
	return rows, nil
}

func validateInput(input RecordInput) error {
	if strings.TrimSpace(input.ProviderEventID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider event id is required")
	}
	if strings.TrimSpace(input.EventType) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event type is required")
	}
	if input.Source != enums.LedgerSourceProvider && input.Source != enums.LedgerSourceSweep {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger source %q", input.Source))
	}
	if input.OccurredAt.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "event timestamp is required")
	}
	return nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
