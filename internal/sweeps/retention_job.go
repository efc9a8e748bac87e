package sweeps

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultRetentionBatch  = 1000
	maxRetentionBatches    = 100
)

type publishedPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

// RetentionJobParams configures outbox pruning.
type RetentionJobParams struct {
	Logger            *logger.Logger
	Outbox            publishedPruner
	TransactionRunner txRunner
	Retention         time.Duration
	BatchSize         int
	Now               func() time.Time
}

// RetentionJob deletes entitlement events the relay delivered more than Retention ago.
type RetentionJob struct {
	logg      *logger.Logger
	outbox    publishedPruner
	txRunner  txRunner
	retention time.Duration
	batchSize int
	now       func() time.Time
}

func NewRetentionJob(params RetentionJobParams) (*RetentionJob, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox repository required")
	case params.TransactionRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultRetentionBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &RetentionJob{
		logg:      params.Logger,
		outbox:    params.Outbox,
		txRunner:  params.TransactionRunner,
		retention: retention,
		batchSize: batchSize,
		now:       now,
	}, nil
}

func (j *RetentionJob) Name() string { return "outbox-retention" }

// Run deletes in batches, one transaction each, until a short batch shows nothing is left.
func (j *RetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	for range maxRetentionBatches {
		if err := ctx.Err(); err != nil {
			return err
		}
		var deleted int64
		err := j.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.outbox.DeletePublishedBefore(tx, cutoff, j.batchSize)
			deleted = n
			return err
		})
		if err != nil {
			return fmt.Errorf("prune outbox: %w", err)
		}
		total += deleted
		if deleted < int64(j.batchSize) {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention_h":  j.retention.Hours(),
		"rows_deleted": total,
	})
	j.logg.Info(logCtx, "outbox retention complete")
	return nil
}
