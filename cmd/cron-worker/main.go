package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/entitlement-engine/internal/boot"
	"github.com/angelmondragon/entitlement-engine/internal/cron"
	"github.com/angelmondragon/entitlement-engine/internal/engine"
	"github.com/angelmondragon/entitlement-engine/internal/sweeps"
	"github.com/angelmondragon/entitlement-engine/pkg/config"
	"github.com/angelmondragon/entitlement-engine/pkg/db"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
	"github.com/angelmondragon/entitlement-engine/pkg/metrics"
	"github.com/angelmondragon/entitlement-engine/pkg/outbox"
)

const serviceKind = "cron-worker"

func main() {
	if err := run(); err != nil {
		boot.Exit(serviceKind, err)
	}
}

func run() error {
	rt, err := boot.Start(context.Background(), boot.Options{Kind: serviceKind, Redis: true})
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	eng, err := engine.New(engine.Params{
		Config:     cfg,
		DB:         rt.DB,
		Redis:      rt.Redis,
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logg,
	})
	if err != nil {
		return err
	}
	registry, err := buildRegistry(cfg, logg, eng, rt.DB)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(rt.Redis, 0)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	ctx, stop := rt.Context()
	defer stop()
	logg.Info(ctx, "cron worker started")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return metrics.Serve(groupCtx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg)
	})
	group.Go(func() error { return service.Run(groupCtx) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker stopped")
	return nil
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, eng *engine.Engine, dbClient *db.Client) (*cron.Registry, error) {
	sweepJob, err := sweeps.NewSweepJob(sweeps.SweepJobParams{
		Logger:        logg,
		Subscriptions: eng.Subscriptions,
		Applier:       eng.Applier,
		Concurrency:   cfg.Billing.SweepConcurrency,
		BatchSize:     cfg.Billing.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}

	replayJob, err := sweeps.NewReplayJob(sweeps.ReplayJobParams{
		Logger:            logg,
		Ledger:            eng.Ledger,
		Decoder:           eng.Decoder,
		Applier:           eng.Applier,
		TransactionRunner: dbClient,
		After:             cfg.Billing.ReplayAfter,
		BatchSize:         cfg.Billing.ReplayBatchSize,
	})
	if err != nil {
		return nil, err
	}

	retentionJob, err := sweeps.NewRetentionJob(sweeps.RetentionJobParams{
		Logger:            logg,
		Outbox:            outbox.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Retention:         cfg.Outbox.Retention,
		BatchSize:         cfg.Outbox.RetentionBatch,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	if err := registry.Register(cfg.Billing.SweepSchedule, sweepJob); err != nil {
		return nil, err
	}
	if err := registry.Register(cfg.Billing.ReplaySchedule, replayJob); err != nil {
		return nil, err
	}
	if err := registry.Register(cfg.Outbox.RetentionSchedule, retentionJob); err != nil {
		return nil, err
	}
	return registry, nil
}
