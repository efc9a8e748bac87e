package entitlements

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
	"github.com/angelmondragon/entitlement-engine/pkg/redis"
)

func TestGateCheck_MissLoadsStoreThenServesCache(t *testing.T) {
	customerID := uuid.New()
	cache := newFakeCache()
	reader := &fakeSnapshotReader{snapshots: map[uuid.UUID]models.EntitlementSnapshot{
		customerID: activeSnapshot(customerID, 3),
	}}
	gate := newTestGate(t, cache, reader)

	first, err := gate.Check(context.Background(), customerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Stale {
		t.Fatalf("store-backed answer must not be stale")
	}
	if !first.HasAccess() || first.Status != enums.SubscriptionStatusActive || first.Version != 3 {
		t.Fatalf("unexpected result %+v", first)
	}

	second, err := gate.Check(context.Background(), customerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Stale {
		t.Fatalf("cached answer must be flagged stale")
	}
	if second.SourceEventID != "evt_3" {
		t.Fatalf("unexpected cached source event %q", second.SourceEventID)
	}
	if reader.calls != 1 {
		t.Fatalf("expected one store read, got %d", reader.calls)
	}
}

func TestGateCheck_UnknownCustomerHasNoAccess(t *testing.T) {
	gate := newTestGate(t, newFakeCache(), &fakeSnapshotReader{})

	result, err := gate.Check(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HasAccess() || result.Status != enums.SubscriptionStatusNone {
		t.Fatalf("expected no access, got %+v", result)
	}
}

func TestGateCheck_FailsClosedOnStoreError(t *testing.T) {
	customerID := uuid.New()
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	gate := newTestGate(t, cache, &fakeSnapshotReader{err: errors.New("db down")})

	result, err := gate.Check(context.Background(), customerID)
	if err == nil {
		t.Fatalf("expected error")
	}
	if pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", pkgerrors.CodeOf(err))
	}
	if result.HasAccess() {
		t.Fatalf("failed lookups must deny access")
	}
	if !result.Stale {
		t.Fatalf("failed lookups must be flagged stale")
	}
}

func TestGateCheck_CacheReadErrorFallsBackToStore(t *testing.T) {
	customerID := uuid.New()
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	reader := &fakeSnapshotReader{snapshots: map[uuid.UUID]models.EntitlementSnapshot{
		customerID: activeSnapshot(customerID, 1),
	}}
	gate := newTestGate(t, cache, reader)

	result, err := gate.Check(context.Background(), customerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.HasAccess() {
		t.Fatalf("expected access from store, got %+v", result)
	}
}

func TestGatePublish_IsVersionGuarded(t *testing.T) {
	customerID := uuid.New()
	cache := newFakeCache()
	gate := newTestGate(t, cache, &fakeSnapshotReader{})
	ctx := context.Background()

	if err := gate.Publish(ctx, activeSnapshot(customerID, 5)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	older := activeSnapshot(customerID, 4)
	older.Status = enums.SubscriptionStatusCanceled
	older.Access = enums.EntitlementAccessNone
	if err := gate.Publish(ctx, older); err != nil {
		t.Fatalf("publish older: %v", err)
	}

	result, err := gate.Check(ctx, customerID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Version != 5 || result.Status != enums.SubscriptionStatusActive {
		t.Fatalf("older snapshot overwrote newer cache entry: %+v", result)
	}
}

func TestGatePublish_EvictsOnWriteFailure(t *testing.T) {
	customerID := uuid.New()
	cache := newFakeCache()
	gate := newTestGate(t, cache, &fakeSnapshotReader{})
	ctx := context.Background()

	if err := gate.Publish(ctx, activeSnapshot(customerID, 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	cache.setErr = errors.New("redis timeout")
	if err := gate.Publish(ctx, activeSnapshot(customerID, 2)); err == nil {
		t.Fatalf("expected publish error")
	}
	if _, ok := cache.entries[cache.EntitlementKey(customerID.String())]; ok {
		t.Fatalf("expected cache entry evicted after failed publish")
	}
}

func TestGateCheck_ExpiredEntryIsIgnored(t *testing.T) {
	customerID := uuid.New()
	cache := newFakeCache()
	reader := &fakeSnapshotReader{snapshots: map[uuid.UUID]models.EntitlementSnapshot{
		customerID: activeSnapshot(customerID, 7),
	}}
	gate := newTestGate(t, cache, reader)
	cache.entries[cache.EntitlementKey(customerID.String())] = redis.VersionedValue{
		Version:  6,
		Payload:  `{"status":"canceled","access":"none","version":6}`,
		CachedAt: time.Now().Add(-time.Hour),
	}

	result, err := gate.Check(context.Background(), customerID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stale || result.Version != 7 {
		t.Fatalf("expected fresh store answer, got %+v", result)
	}
}

func newTestGate(t *testing.T, cache Cache, reader snapshotReader) *Gate {
	t.Helper()
	gate, err := NewGate(GateParams{Cache: cache, Snapshots: reader, TTL: 30 * time.Second})
	if err != nil {
		t.Fatalf("build gate: %v", err)
	}
	return gate
}

func activeSnapshot(customerID uuid.UUID, version int64) models.EntitlementSnapshot {
	subID := "sub_" + customerID.String()[:8]
	until := time.Now().Add(24 * time.Hour).UTC()
	return models.EntitlementSnapshot{
		CustomerID:     customerID,
		Status:         enums.SubscriptionStatusActive,
		Access:         enums.EntitlementAccessFull,
		PlanTier:       enums.PlanTierStandard,
		SubscriptionID: &subID,
		ValidUntil:     &until,
		SourceEventID:  fmt.Sprintf("evt_%d", version),
		Version:        version,
	}
}

type fakeSnapshotReader struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID]models.EntitlementSnapshot
	err       error
	calls     int
}

func (f *fakeSnapshotReader) Get(_ context.Context, customerID uuid.UUID) (*models.EntitlementSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	snapshot, ok := f.snapshots[customerID]
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]redis.VersionedValue
	getErr      error
	setErr      error
	delFailures int
	delCalls    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]redis.VersionedValue{}}
}

func (f *fakeCache) GetVersioned(_ context.Context, key string) (redis.VersionedValue, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.VersionedValue{}, false, f.getErr
	}
	value, ok := f.entries[key]
	return value, ok, nil
}

func (f *fakeCache) SetIfNewer(_ context.Context, key string, version int64, payload string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return false, f.setErr
	}
	if current, ok := f.entries[key]; ok && current.Version >= version {
		return false, nil
	}
	f.entries[key] = redis.VersionedValue{Version: version, Payload: payload, CachedAt: time.Now().UTC()}
	return true, nil
}

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delCalls++
	if f.delFailures > 0 {
		f.delFailures--
		return errors.New("redis unavailable")
	}
	for _, key := range keys {
		delete(f.entries, key)
	}
	return nil
}

func (f *fakeCache) EntitlementKey(customerID string) string {
	return "ee:entitlement:" + customerID
}

func (f *fakeCache) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok
}

func (f *fakeCache) deletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delCalls
}

// blockingReader holds every load until release is closed, honoring the load context.
type blockingReader struct {
	snapshot models.EntitlementSnapshot
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (b *blockingReader) Get(ctx context.Context, _ uuid.UUID) (*models.EntitlementSnapshot, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
		snapshot := b.snapshot
		return &snapshot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestGateCheck_CanceledCallerDoesNotFailWaiters(t *testing.T) {
	customerID := uuid.New()
	reader := &blockingReader{
		snapshot: activeSnapshot(customerID, 2),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	gate := newTestGate(t, newFakeCache(), reader)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := gate.Check(leaderCtx, customerID)
		leaderDone <- err
	}()
	<-reader.entered

	type outcome struct {
		result Result
		err    error
	}
	waiterDone := make(chan outcome, 1)
	go func() {
		result, err := gate.Check(context.Background(), customerID)
		waiterDone <- outcome{result, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	select {
	case err := <-leaderDone:
		if err == nil {
			t.Fatalf("expected the canceled caller to get an error")
		}
	case <-time.After(time.Second):
		t.Fatalf("canceled caller kept waiting on the load")
	}

	close(reader.release)
	select {
	case got := <-waiterDone:
		if got.err != nil {
			t.Fatalf("waiter failed with the leader's cancellation: %v", got.err)
		}
		if !got.result.HasAccess() || got.result.Version != 2 {
			t.Fatalf("unexpected waiter result %+v", got.result)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter never returned")
	}
}

func TestGatePublish_RetriesFailedEviction(t *testing.T) {
	customerID := uuid.New()
	cache := newFakeCache()
	canceled := activeSnapshot(customerID, 2)
	canceled.Status = enums.SubscriptionStatusCanceled
	canceled.Access = enums.EntitlementAccessNone
	reader := &fakeSnapshotReader{snapshots: map[uuid.UUID]models.EntitlementSnapshot{customerID: canceled}}
	gate := newTestGate(t, cache, reader)
	gate.retryFloor = 5 * time.Millisecond
	ctx := context.Background()
	key := cache.EntitlementKey(customerID.String())

	if err := gate.Publish(ctx, activeSnapshot(customerID, 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	cache.mu.Lock()
	cache.setErr = errors.New("redis timeout")
	cache.delFailures = 2
	cache.mu.Unlock()

	if err := gate.Publish(ctx, canceled); err == nil {
		t.Fatalf("expected publish error")
	}

	// The superseded entry may still sit in the cache but is never served.
	result, err := gate.Check(ctx, customerID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.HasAccess() || result.Version != 2 {
		t.Fatalf("served a superseded snapshot: %+v", result)
	}

	deadline := time.Now().Add(2 * time.Second)
	for cache.has(key) {
		if time.Now().After(deadline) {
			t.Fatalf("eviction was never retried; %d delete calls", cache.deletes())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if cache.deletes() < 3 {
		t.Fatalf("expected the eviction to be retried, got %d delete calls", cache.deletes())
	}
}
