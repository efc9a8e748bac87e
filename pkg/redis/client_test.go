package redis

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestSetIfNewerRefusesOlderVersions(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.EntitlementKey("cust-1")

	ok, err := client.SetIfNewer(ctx, key, 2, `{"status":"active"}`, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected first write to land")
	}

	ok, err = client.SetIfNewer(ctx, key, 1, `{"status":"trialing"}`, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected older version to be refused")
	}

	value, found, err := client.GetVersioned(ctx, key)
	if err != nil {
		t.Fatalf("get versioned failed: %v", err)
	}
	if !found {
		t.Fatalf("expected cached value")
	}
	if value.Version != 2 || value.Payload != `{"status":"active"}` {
		t.Fatalf("unexpected cached value %+v", value)
	}
	if value.CachedAt.IsZero() {
		t.Fatalf("expected cached-at timestamp")
	}
}

func TestSetIfNewerRequiresTTL(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	if _, err := client.SetIfNewer(context.Background(), "k", 1, "{}", 0); err == nil {
		t.Fatalf("expected ttl validation error")
	}
}

func TestGetVersionedMiss(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	_, found, err := client.GetVersioned(context.Background(), client.EntitlementKey("nobody"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected miss")
	}
}

func TestReleaseIfOwner(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("subscription", "sub_1")

	if ok, err := client.SetNX(ctx, key, "owner-a", time.Minute); err != nil || !ok {
		t.Fatalf("setnx failed ok=%v err=%v", ok, err)
	}
	released, err := client.ReleaseIfOwner(ctx, key, "owner-b")
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released {
		t.Fatalf("foreign owner must not release the lock")
	}
	released, err = client.ReleaseIfOwner(ctx, key, "owner-a")
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !released {
		t.Fatalf("expected owner to release the lock")
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after release, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.EntitlementKey("cust"); got != "ee:entitlement:cust" {
		t.Fatalf("unexpected entitlement key %s", got)
	}
	if got := client.LockKey("subscription", "sub_1"); got != "ee:lock:subscription:sub_1" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.LockKey("cron", ""); got != "ee:lock:cron" {
		t.Fatalf("lock key should skip empty parts, got %s", got)
	}
}

type mockCmdable struct {
	data   map[string]string
	hashes map[string]map[string]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:   make(map[string]string),
		hashes: make(map[string]map[string]string),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	fields := map[string]string{}
	for k, v := range m.hashes[key] {
		fields[k] = v
	}
	return redis.NewMapStringStringResult(fields, nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	key := keys[0]
	switch script {
	case releaseIfOwnerScript:
		if m.data[key] == fmt.Sprint(args[0]) {
			delete(m.data, key)
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	case extendIfOwnerScript:
		if m.data[key] == fmt.Sprint(args[0]) {
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	case setIfNewerScript:
		incoming, _ := strconv.ParseInt(fmt.Sprint(args[0]), 10, 64)
		if current, ok := m.hashes[key]["v"]; ok {
			existing, _ := strconv.ParseInt(current, 10, 64)
			if existing >= incoming {
				return redis.NewCmdResult(int64(0), nil)
			}
		}
		m.hashes[key] = map[string]string{
			"v":  fmt.Sprint(args[0]),
			"d":  fmt.Sprint(args[1]),
			"at": fmt.Sprint(args[2]),
		}
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
		delete(m.hashes, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
