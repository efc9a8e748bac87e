// Package engine assembles the reconciliation stack shared by the api and cron-worker binaries.
package engine

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/entitlement-engine/internal/customers"
	"github.com/angelmondragon/entitlement-engine/internal/entitlements"
	"github.com/angelmondragon/entitlement-engine/internal/ledger"
	"github.com/angelmondragon/entitlement-engine/internal/subscriptions"
	stripewebhook "github.com/angelmondragon/entitlement-engine/internal/webhooks/stripe"
	"github.com/angelmondragon/entitlement-engine/pkg/config"
	"github.com/angelmondragon/entitlement-engine/pkg/db"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
	"github.com/angelmondragon/entitlement-engine/pkg/metrics"
	"github.com/angelmondragon/entitlement-engine/pkg/outbox"
	"github.com/angelmondragon/entitlement-engine/pkg/redis"
)

type Params struct {
	Config     *config.Config
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
	Logger     *logger.Logger
}

// Engine holds the wired components. Fields are safe for concurrent use.
type Engine struct {
	Ledger        ledger.Service
	Customers     customers.Service
	Subscriptions subscriptions.Repository
	Gate          *entitlements.Gate
	Applier       *subscriptions.Applier
	Decoder       *stripewebhook.Decoder
	Status        *subscriptions.StatusReader
}

// PolicyFor maps billing configuration onto the state machine policy.
func PolicyFor(cfg config.BillingConfig) subscriptions.Policy {
	policy := subscriptions.Policy{
		GracePeriod: cfg.GracePeriod,
		TrialExpiry: enums.SubscriptionStatusCanceled,
	}
	if strings.EqualFold(strings.TrimSpace(cfg.TrialExpiryPolicy), config.TrialExpiryNone) {
		policy.TrialExpiry = enums.SubscriptionStatusNone
	}
	return policy
}

func New(params Params) (*Engine, error) {
	switch {
	case params.Config == nil:
		return nil, fmt.Errorf("config required")
	case params.DB == nil:
		return nil, fmt.Errorf("db client required")
	case params.Redis == nil:
		return nil, fmt.Errorf("redis client required")
	}
	reg := params.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cfg := params.Config
	conn := params.DB.DB()

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	customerSvc, err := customers.NewService(customers.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("customer service: %w", err)
	}
	snapshots := entitlements.NewRepository(conn)

	gate, err := entitlements.NewGate(entitlements.GateParams{
		Cache:     params.Redis,
		Snapshots: snapshots,
		TTL:       cfg.Billing.CacheTTL,
		Metrics:   metrics.NewGateMetrics(reg),
		Logger:    params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("entitlement gate: %w", err)
	}

	machine, err := subscriptions.NewMachine(PolicyFor(cfg.Billing))
	if err != nil {
		return nil, fmt.Errorf("state machine: %w", err)
	}

	remote, err := subscriptions.NewRedisMutex(params.Redis, cfg.Billing.LockTTL, cfg.Billing.LockWait)
	if err != nil {
		return nil, fmt.Errorf("subscription lock: %w", err)
	}

	subs := subscriptions.NewRepository(conn)
	applier, err := subscriptions.NewApplier(subscriptions.ApplierParams{
		Ledger:            ledgerSvc,
		Subscriptions:     subs,
		Customers:         customerSvc,
		Snapshots:         snapshots,
		Outbox:            outbox.NewService(outbox.NewRepository(conn), params.Logger),
		Publisher:         gate,
		Machine:           machine,
		Locker:            subscriptions.NewExclusiveSection(remote),
		TransactionRunner: params.DB,
		Metrics:           metrics.NewBillingMetrics(reg),
		Logger:            params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("applier: %w", err)
	}

	return &Engine{
		Ledger:        ledgerSvc,
		Customers:     customerSvc,
		Subscriptions: subs,
		Gate:          gate,
		Applier:       applier,
		Decoder:       stripewebhook.NewDecoder(cfg.Stripe.SkewTolerance),
		Status:        subscriptions.NewStatusReader(subs),
	}, nil
}
