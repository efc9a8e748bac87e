package sweeps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/entitlement-engine/internal/subscriptions"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

const (
	defaultSweepConcurrency = 8
	defaultSweepBatchSize   = 500
)

type submitter interface {
	Submit(ctx context.Context, sub subscriptions.Submission) (*subscriptions.Result, error)
}

type expiredLister interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
}

// SweepJobParams configures the subscription sweep.
type SweepJobParams struct {
	Logger        *logger.Logger
	Subscriptions expiredLister
	Applier       submitter
	Concurrency   int
	BatchSize     int
	Now           func() time.Time
}

// SweepJob expires trials and grace periods that no provider event closed.
type SweepJob struct {
	logg        *logger.Logger
	subs        expiredLister
	applier     submitter
	concurrency int
	batchSize   int
	now         func() time.Time
}

// NewSweepJob builds the subscription-sweep job.
func NewSweepJob(params SweepJobParams) (*SweepJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Applier == nil {
		return nil, fmt.Errorf("applier required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &SweepJob{
		logg:        params.Logger,
		subs:        params.Subscriptions,
		applier:     params.Applier,
		concurrency: concurrency,
		batchSize:   batchSize,
		now:         now,
	}, nil
}

func (j *SweepJob) Name() string { return "subscription-sweep" }

// Run evaluates every overdue record against the current time. A failed record does not stop the others.
func (j *SweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	rows, err := j.subs.ListExpired(ctx, now, j.batchSize)
	if err != nil {
		return fmt.Errorf("list expired subscriptions: %w", err)
	}

	var (
		mu       sync.Mutex
		errs     error
		outcomes = map[subscriptions.Outcome]int{}
	)
	group := new(errgroup.Group)
	group.SetLimit(j.concurrency)

	for i := range rows {
		marker, ok := MarkerFor(rows[i], now)
		if !ok {
			continue
		}
		group.Go(func() error {
			result, err := j.applier.Submit(ctx, marker)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("sweep %s: %w", marker.Event.ID, err))
				return nil
			}
			outcomes[result.Outcome]++
			return nil
		})
	}
	_ = group.Wait()

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"applied":    outcomes[subscriptions.OutcomeApplied],
		"duplicate":  outcomes[subscriptions.OutcomeDuplicate],
		"stale":      outcomes[subscriptions.OutcomeStale],
		"rejected":   outcomes[subscriptions.OutcomeRejected],
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(reportCtx, "subscription sweep complete")
	return errs
}
