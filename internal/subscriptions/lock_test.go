package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	mu := NewKeyedMutex()
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := mu.Lock(context.Background(), "sub_1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak)
	assert.Empty(t, mu.slots)
}

func TestKeyedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	mu := NewKeyedMutex()
	unlockA, err := mu.Lock(context.Background(), "sub_a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlockB, err := mu.Lock(ctx, "sub_b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutex_WaitHonorsContext(t *testing.T) {
	mu := NewKeyedMutex()
	unlock, err := mu.Lock(context.Background(), "sub_1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = mu.Lock(ctx, "sub_1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Empty(t, mu.slots)
}

type fakeLockStore struct {
	mu       sync.Mutex
	owners   map[string]string
	setErr   error
	released []string
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{owners: map[string]string{}}
}

func (f *fakeLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, held := f.owners[key]; held {
		return false, nil
	}
	f.owners[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeLockStore) ReleaseIfOwner(_ context.Context, key, owner string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owners[key] != owner {
		return false, nil
	}
	delete(f.owners, key)
	f.released = append(f.released, key)
	return true, nil
}

func (f *fakeLockStore) LockKey(scope, id string) string {
	return "lock:" + scope + ":" + id
}

func TestRedisMutex_AcquireAndRelease(t *testing.T) {
	store := newFakeLockStore()
	mu, err := NewRedisMutex(store, time.Minute, time.Second)
	require.NoError(t, err)

	unlock, err := mu.Lock(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Contains(t, store.owners, "lock:subscription:sub_1")

	unlock()
	assert.Equal(t, []string{"lock:subscription:sub_1"}, store.released)
	assert.Empty(t, store.owners)
}

func TestRedisMutex_TimesOutWhileHeld(t *testing.T) {
	store := newFakeLockStore()
	store.owners["lock:subscription:sub_1"] = "someone-else"
	mu, err := NewRedisMutex(store, time.Minute, 60*time.Millisecond)
	require.NoError(t, err)

	_, err = mu.Lock(context.Background(), "sub_1")
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.Equal(t, "someone-else", store.owners["lock:subscription:sub_1"])
}

func TestRedisMutex_WaitsForRelease(t *testing.T) {
	store := newFakeLockStore()
	store.owners["lock:subscription:sub_1"] = "holder"
	mu, err := NewRedisMutex(store, time.Minute, time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = store.ReleaseIfOwner(context.Background(), "lock:subscription:sub_1", "holder")
	}()

	unlock, err := mu.Lock(context.Background(), "sub_1")
	require.NoError(t, err)
	unlock()
}

func TestRedisMutex_StoreErrorSurfaces(t *testing.T) {
	store := newFakeLockStore()
	store.setErr = errors.New("connection refused")
	mu, err := NewRedisMutex(store, time.Minute, time.Second)
	require.NoError(t, err)

	_, err = mu.Lock(context.Background(), "sub_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewRedisMutex_Validates(t *testing.T) {
	_, err := NewRedisMutex(nil, time.Minute, time.Second)
	require.Error(t, err)
	_, err = NewRedisMutex(newFakeLockStore(), 0, time.Second)
	require.Error(t, err)
}

func TestExclusiveSection_ReleasesLocalWhenRemoteFails(t *testing.T) {
	store := newFakeLockStore()
	store.setErr = errors.New("redis down")
	remote, err := NewRedisMutex(store, time.Minute, time.Second)
	require.NoError(t, err)
	section := NewExclusiveSection(remote)

	_, err = section.Lock(context.Background(), "sub_1")
	require.Error(t, err)

	store.setErr = nil
	unlock, err := section.Lock(context.Background(), "sub_1")
	require.NoError(t, err)
	unlock()
	assert.Empty(t, store.owners)
}
