package entitlements

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
	"github.com/angelmondragon/entitlement-engine/pkg/metrics"
	"github.com/angelmondragon/entitlement-engine/pkg/redis"
)

const (
	defaultLoadTimeout = 3 * time.Second
	evictionRetryFloor = 100 * time.Millisecond
	evictionRetryCeil  = 2 * time.Second
)

// Cache is the versioned key/value surface the gate caches snapshots in.
type Cache interface {
	GetVersioned(ctx context.Context, key string) (redis.VersionedValue, bool, error)
	SetIfNewer(ctx context.Context, key string, version int64, payload string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	EntitlementKey(customerID string) string
}

type snapshotReader interface {
	Get(ctx context.Context, customerID uuid.UUID) (*models.EntitlementSnapshot, error)
}

// Result answers whether a customer may use paid features right now.
type Result struct {
	CustomerID     uuid.UUID                `json:"customer_id"`
	Status         enums.SubscriptionStatus `json:"status"`
	Access         enums.EntitlementAccess  `json:"access"`
	Tier           enums.PlanTier           `json:"tier"`
	SubscriptionID string                   `json:"subscription_id,omitempty"`
	ValidUntil     *time.Time               `json:"valid_until,omitempty"`
	Warning        bool                     `json:"warning"`
	SourceEventID  string                   `json:"source_event_id,omitempty"`
	Version        int64                    `json:"version"`
	Stale          bool                     `json:"stale"`
}

// HasAccess reports whether the result grants paid access.
func (r Result) HasAccess() bool {
	return r.Access.GrantsAccess()
}

// NoAccess is the answer for unknown customers and for failed lookups.
func NoAccess(customerID uuid.UUID) Result {
	return Result{
		CustomerID: customerID,
		Status:     enums.SubscriptionStatusNone,
		Access:     enums.EntitlementAccessNone,
		Tier:       enums.PlanTierNone,
	}
}

// ResultFromSnapshot converts a persisted snapshot into a gate answer.
func ResultFromSnapshot(snapshot models.EntitlementSnapshot) Result {
	result := Result{
		CustomerID:    snapshot.CustomerID,
		Status:        snapshot.Status,
		Access:        snapshot.Access,
		Tier:          snapshot.PlanTier,
		ValidUntil:    snapshot.ValidUntil,
		Warning:       snapshot.Warning,
		SourceEventID: snapshot.SourceEventID,
		Version:       snapshot.Version,
	}
	if snapshot.SubscriptionID != nil {
		result.SubscriptionID = *snapshot.SubscriptionID
	}
	return result
}

// GateParams groups dependencies for the entitlement gate.
type GateParams struct {
	Cache     Cache
	Snapshots snapshotReader
	TTL       time.Duration
	Metrics   *metrics.GateMetrics
	Logger    *logger.Logger
}

// Gate serves entitlement checks from a bounded-staleness cache backed by the snapshot table.
type Gate struct {
	cache     Cache
	snapshots snapshotReader
	ttl       time.Duration
	metrics   *metrics.GateMetrics
	logg      *logger.Logger
	group     singleflight.Group
	now       func() time.Time

	loadTimeout time.Duration

	// unevicted maps a cache key to the newest committed version the cache failed to take.
	// Entries older than it are not served from this process while the eviction is retried.
	unevicted  sync.Map
	retryFloor time.Duration
}

// NewGate validates dependencies and builds a gate.
func NewGate(params GateParams) (*Gate, error) {
	if params.Snapshots == nil {
		return nil, fmt.Errorf("snapshot reader required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("entitlement cache required")
	}
	if params.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive")
	}
	return &Gate{
		cache:     params.Cache,
		snapshots: params.Snapshots,
		ttl:       params.TTL,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       time.Now,

		loadTimeout: defaultLoadTimeout,
		retryFloor:  evictionRetryFloor,
	}, nil
}

// Check answers for customerID. Cached answers carry Stale=true. When neither the
// cache nor the store can answer, the no-access result is returned with the error.
func (g *Gate) Check(ctx context.Context, customerID uuid.UUID) (Result, error) {
	if customerID == uuid.Nil {
		return NoAccess(customerID), pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}

	if cached, ok := g.fromCache(ctx, customerID); ok {
		g.metrics.IncLookup(metrics.GateSourceCache)
		g.observe(cached)
		return cached, nil
	}

	key := customerID.String()
	// The flight outlives any single caller so one canceled request cannot fail its waiters.
	flight := g.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.loadTimeout)
		defer cancel()
		return g.load(loadCtx, customerID)
	})
	var (
		value interface{}
		err   error
	)
	select {
	case res := <-flight:
		value, err = res.Val, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		g.metrics.IncLookup(metrics.GateSourceFailed)
		g.metrics.IncDenial()
		if g.logg != nil {
			logCtx := g.logg.WithCustomerID(ctx, key)
			g.logg.Error(logCtx, "entitlement lookup failed; denying", err)
		}
		denied := NoAccess(customerID)
		denied.Stale = true
		return denied, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve entitlement")
	}
	g.metrics.IncLookup(metrics.GateSourceStore)
	result := value.(Result)
	g.observe(result)
	return result, nil
}

// Publish pushes a freshly committed snapshot into the cache. The write only lands
// when it is newer than what is cached; on failure the key is dropped so the next
// read goes to the store. When the drop fails too it is retried in the background
// until it lands or the cached entry has aged out.
func (g *Gate) Publish(ctx context.Context, snapshot models.EntitlementSnapshot) error {
	key := g.cache.EntitlementKey(snapshot.CustomerID.String())
	err := g.store(ctx, key, ResultFromSnapshot(snapshot))
	if err == nil {
		return nil
	}
	if delErr := g.cache.Del(ctx, key); delErr != nil {
		g.unevicted.Store(key, snapshot.Version)
		if g.logg != nil {
			logCtx := g.logg.WithCustomerID(ctx, snapshot.CustomerID.String())
			g.logg.Error(logCtx, "entitlement cache eviction failed; retrying", delErr)
		}
		go g.retryEviction(context.WithoutCancel(ctx), key, snapshot.Version)
	}
	return err
}

func (g *Gate) retryEviction(ctx context.Context, key string, version int64) {
	ctx, cancel := context.WithTimeout(ctx, g.ttl)
	defer cancel()
	defer g.unevicted.CompareAndDelete(key, version)

	wait := g.retryFloor
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := g.cache.Del(ctx, key); err == nil {
			return
		}
		wait = min(wait*2, evictionRetryCeil)
	}
}

// Invalidate drops the cached answer for customerID.
func (g *Gate) Invalidate(ctx context.Context, customerID uuid.UUID) error {
	return g.cache.Del(ctx, g.cache.EntitlementKey(customerID.String()))
}

func (g *Gate) fromCache(ctx context.Context, customerID uuid.UUID) (Result, bool) {
	key := g.cache.EntitlementKey(customerID.String())
	value, ok, err := g.cache.GetVersioned(ctx, key)
	if err != nil {
		if g.logg != nil {
			logCtx := g.logg.WithCustomerID(ctx, customerID.String())
			g.logg.Warn(logCtx, fmt.Sprintf("entitlement cache read failed: %v", err))
		}
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	if !value.CachedAt.IsZero() && g.now().Sub(value.CachedAt) > g.ttl {
		return Result{}, false
	}
	if floor, pending := g.unevicted.Load(key); pending && value.Version < floor.(int64) {
		return Result{}, false
	}
	var result Result
	if err := json.Unmarshal([]byte(value.Payload), &result); err != nil {
		return Result{}, false
	}
	result.Stale = true
	return result, true
}

func (g *Gate) load(ctx context.Context, customerID uuid.UUID) (Result, error) {
	snapshot, err := g.snapshots.Get(ctx, customerID)
	if err != nil {
		return Result{}, err
	}
	result := NoAccess(customerID)
	if snapshot != nil {
		result = ResultFromSnapshot(*snapshot)
		key := g.cache.EntitlementKey(customerID.String())
		if err := g.store(ctx, key, result); err != nil && g.logg != nil {
			logCtx := g.logg.WithCustomerID(ctx, customerID.String())
			g.logg.Warn(logCtx, fmt.Sprintf("entitlement cache fill failed: %v", err))
		}
	}
	return result, nil
}

func (g *Gate) store(ctx context.Context, key string, result Result) error {
	result.Stale = false
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = g.cache.SetIfNewer(ctx, key, result.Version, string(payload), g.ttl)
	return err
}

func (g *Gate) observe(result Result) {
	if !result.HasAccess() {
		g.metrics.IncDenial()
	}
}
