package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	lockScope        = "subscription"
	lockPollInterval = 20 * time.Millisecond
)

// ErrLockTimeout is returned when the exclusive section could not be entered in time.
var ErrLockTimeout = errors.New("subscription lock wait exceeded")

// Locker serializes the ledger-and-apply sequence per subscription id.
type Locker interface {
	Lock(ctx context.Context, subscriptionID string) (func(), error)
}

// KeyedMutex is an in-process mutex per key whose waits honor the context.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex builds an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.drop(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.drop(key, s)
		})
	}, nil
}

func (k *KeyedMutex) drop(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error)
	LockKey(scope, id string) string
}

// RedisMutex serializes across processes with an owner-tagged SETNX key.
type RedisMutex struct {
	store lockStore
	ttl   time.Duration
	wait  time.Duration
	poll  time.Duration
}

// NewRedisMutex builds a cross-process lock; ttl bounds how long a crashed holder blocks others.
func NewRedisMutex(store lockStore, ttl, wait time.Duration) (*RedisMutex, error) {
	if store == nil {
		return nil, errors.New("redis store required for subscription lock")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	return &RedisMutex{store: store, ttl: ttl, wait: wait, poll: lockPollInterval}, nil
}

func (r *RedisMutex) Lock(ctx context.Context, subscriptionID string) (func(), error) {
	key := r.store.LockKey(lockScope, subscriptionID)
	owner := uuid.NewString()

	waitCtx := ctx
	if r.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.wait)
		defer cancel()
	}

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.store.SetNX(waitCtx, key, owner, r.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire subscription lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			_, _ = r.store.ReleaseIfOwner(releaseCtx, key, owner)
		})
	}, nil
}

// ExclusiveSection takes the in-process lock first so only one local caller polls Redis.
type ExclusiveSection struct {
	local  *KeyedMutex
	remote Locker
}

// NewExclusiveSection combines the keyed mutex with an optional cross-process locker.
func NewExclusiveSection(remote Locker) *ExclusiveSection {
	return &ExclusiveSection{local: NewKeyedMutex(), remote: remote}
}

func (e *ExclusiveSection) Lock(ctx context.Context, subscriptionID string) (func(), error) {
	unlockLocal, err := e.local.Lock(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if e.remote == nil {
		return unlockLocal, nil
	}
	unlockRemote, err := e.remote.Lock(ctx, subscriptionID)
	if err != nil {
		unlockLocal()
		return nil, err
	}
	return func() {
		unlockRemote()
		unlockLocal()
	}, nil
}
