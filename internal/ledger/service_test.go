package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/db/sqlitetest"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := sqlitetest.Open(t, &models.BillingEvent{})
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	return svc, conn
}

func sampleInput(id string) RecordInput {
	return RecordInput{
		ProviderEventID: id,
		Source:          enums.LedgerSourceProvider,
		EventType:       "customer.subscription.deleted",
		Kind:            enums.BillingEventSubscriptionDeleted,
		SubscriptionID:  "sub_123",
		CustomerRef:     "cus_123",
		OccurredAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:         json.RawMessage(`{"id":"` + id + `"}`),
	}
}

func TestRecord_NewThenDuplicate(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	first, err := svc.Record(ctx, sampleInput("evt_1"))
	require.NoError(t, err)
	assert.Equal(t, RecordNew, first.Status)
	assert.NotZero(t, first.Entry.Seq)
	assert.Equal(t, enums.LedgerOutcomePending, first.Entry.Outcome)

	second, err := svc.Record(ctx, sampleInput("evt_1"))
	require.NoError(t, err)
	assert.Equal(t, RecordPending, second.Status, "unapplied duplicates must be resumable")
	assert.Equal(t, first.Entry.Seq, second.Entry.Seq)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.MarkApplied(ctx, tx, "evt_1", enums.LedgerOutcomeApplied, "")
	}))

	third, err := svc.Record(ctx, sampleInput("evt_1"))
	require.NoError(t, err)
	assert.Equal(t, RecordDuplicate, third.Status)
	assert.True(t, third.Entry.Applied)
	require.NotNil(t, third.Entry.AppliedAt)

	var count int64
	require.NoError(t, conn.Model(&models.BillingEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRecord_ConcurrentDeliveryYieldsOneNew(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const deliveries = 8
	var wg sync.WaitGroup
	results := make(chan RecordStatus, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Record(ctx, sampleInput("evt_race"))
			if err != nil {
				t.Errorf("record failed: %v", err)
				return
			}
			results <- res.Status
		}()
	}
	wg.Wait()
	close(results)

	counts := map[RecordStatus]int{}
	for status := range results {
		counts[status]++
	}
	assert.Equal(t, 1, counts[RecordNew])
	assert.Equal(t, deliveries-1, counts[RecordPending])
}

func TestRecord_RejectsMissingEventID(t *testing.T) {
	svc, conn := newTestService(t)

	input := sampleInput("")
	_, err := svc.Record(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	var count int64
	require.NoError(t, conn.Model(&models.BillingEvent{}).Count(&count).Error)
	assert.Zero(t, count, "malformed input must never be persisted")
}

func TestMarkApplied_RefusesSecondResolution(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, sampleInput("evt_once"))
	require.NoError(t, err)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.MarkApplied(ctx, tx, "evt_once", enums.LedgerOutcomeStale, "older than recorded transition")
	}))

	err = conn.Transaction(func(tx *gorm.DB) error {
		return svc.MarkApplied(ctx, tx, "evt_once", enums.LedgerOutcomeApplied, "")
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))

	entry, err := svc.Get(ctx, "evt_once")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, enums.LedgerOutcomeStale, entry.Outcome)
	require.NotNil(t, entry.Reason)
	assert.Equal(t, "older than recorded transition", *entry.Reason)
}

func TestMarkApplied_RollsBackWithTransaction(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	_, err := svc.Record(ctx, sampleInput("evt_rollback"))
	require.NoError(t, err)

	boom := errors.New("snapshot write failed")
	err = conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.MarkApplied(ctx, tx, "evt_rollback", enums.LedgerOutcomeApplied, ""); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	res, err := svc.Record(ctx, sampleInput("evt_rollback"))
	require.NoError(t, err)
	assert.Equal(t, RecordPending, res.Status)
}

func TestListPending_OnlyReturnsOldUnresolvedEntries(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		_, err := svc.Record(ctx, sampleInput(id))
		require.NoError(t, err)
	}
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.MarkApplied(ctx, tx, "evt_b", enums.LedgerOutcomeApplied, "")
	}))

	rows, err := svc.ListPending(ctx, -time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "evt_a", rows[0].ProviderEventID)
	assert.Equal(t, "evt_c", rows[1].ProviderEventID)

	rows, err = svc.ListPending(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
