package sweeps

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlement-engine/internal/subscriptions"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

const (
	defaultReplayAfter     = 5 * time.Minute
	defaultReplayBatchSize = 100
)

type pendingLedger interface {
	ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]models.BillingEvent, error)
	MarkApplied(ctx context.Context, tx *gorm.DB, providerEventID string, outcome enums.LedgerOutcome, reason string) error
}

type storedDecoder interface {
	DecodeStored(entry models.BillingEvent) (subscriptions.Submission, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ReplayJobParams configures the ledger replay.
type ReplayJobParams struct {
	Logger            *logger.Logger
	Ledger            pendingLedger
	Decoder           storedDecoder
	Applier           submitter
	TransactionRunner txRunner
	After             time.Duration
	BatchSize         int
}

// ReplayJob re-drives ledger entries whose apply never completed and that the provider did not redeliver.
type ReplayJob struct {
	logg      *logger.Logger
	ledger    pendingLedger
	decoder   storedDecoder
	applier   submitter
	txRunner  txRunner
	after     time.Duration
	batchSize int
}

// NewReplayJob builds the ledger-replay job.
func NewReplayJob(params ReplayJobParams) (*ReplayJob, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case params.Decoder == nil:
		return nil, fmt.Errorf("event decoder required")
	case params.Applier == nil:
		return nil, fmt.Errorf("applier required")
	case params.TransactionRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	}
	after := params.After
	if after <= 0 {
		after = defaultReplayAfter
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReplayBatchSize
	}
	return &ReplayJob{
		logg:      params.Logger,
		ledger:    params.Ledger,
		decoder:   params.Decoder,
		applier:   params.Applier,
		txRunner:  params.TransactionRunner,
		after:     after,
		batchSize: batchSize,
	}, nil
}

func (j *ReplayJob) Name() string { return "ledger-replay" }

// Run replays pending entries oldest first, in ledger order.
func (j *ReplayJob) Run(ctx context.Context) error {
	entries, err := j.ledger.ListPending(ctx, j.after, j.batchSize)
	if err != nil {
		return fmt.Errorf("list pending ledger entries: %w", err)
	}

	var errs error
	replayed := 0
	for _, entry := range entries {
		entryCtx := j.logg.WithEventID(ctx, entry.ProviderEventID)
		sub, err := j.submission(entry)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeValidation) {
				errs = multierr.Append(errs, j.reject(entryCtx, entry, err))
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}
		if _, err := j.applier.Submit(entryCtx, sub); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("replay %s: %w", entry.ProviderEventID, err))
			continue
		}
		replayed++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"pending":  len(entries),
		"replayed": replayed,
	})
	j.logg.Info(reportCtx, "ledger replay complete")
	return errs
}

func (j *ReplayJob) submission(entry models.BillingEvent) (subscriptions.Submission, error) {
	if entry.Source == enums.LedgerSourceSweep {
		return MarkerFromEntry(entry)
	}
	return j.decoder.DecodeStored(entry)
}

// reject resolves an entry that can no longer be decoded so it stops coming back.
func (j *ReplayJob) reject(ctx context.Context, entry models.BillingEvent, cause error) error {
	reason := fmt.Sprintf("replay decode failed: %v", cause)
	err := j.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return j.ledger.MarkApplied(ctx, tx, entry.ProviderEventID, enums.LedgerOutcomeRejected, reason)
	})
	if err != nil {
		return fmt.Errorf("reject %s: %w", entry.ProviderEventID, err)
	}
	logCtx := j.logg.WithField(ctx, "manual_inspection", true)
	j.logg.Warn(logCtx, reason)
	return nil
}
