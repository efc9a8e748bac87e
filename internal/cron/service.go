package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/entitlement-engine/pkg/logger"
	"github.com/angelmondragon/entitlement-engine/pkg/metrics"
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Location *time.Location
}

// Service executes registered jobs on their schedules.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	location *time.Location
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	location := params.Location
	if location == nil {
		location = time.UTC
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		location: location,
	}, nil
}

// Run schedules every registered job and blocks until the context is canceled.
// In-flight jobs are allowed to finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cronLog := cronLogger{ctx: ctx, logg: s.logg}
	scheduler := robfig.New(
		robfig.WithLocation(s.location),
		robfig.WithLogger(cronLog),
		robfig.WithChain(robfig.Recover(cronLog), robfig.SkipIfStillRunning(cronLog)),
	)

	for _, entry := range s.registry.Entries() {
		job := entry.Job
		if _, err := scheduler.AddFunc(entry.Spec, func() { s.runJob(ctx, job) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name(), err)
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "schedule": entry.Spec}), "job scheduled")
	}

	scheduler.Start()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	<-scheduler.Stop().Done()
	return ctx.Err()
}

// RunOnce executes every registered job a single time, in registration order.
func (s *Service) RunOnce(ctx context.Context) {
	for _, entry := range s.registry.Entries() {
		s.runJob(ctx, entry.Job)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")

	release, ok, err := s.lock.Acquire(jobCtx, job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		s.metrics.RecordRun(job.Name(), metrics.CronResultFailure, 0)
		return
	}
	if !ok {
		s.logg.Debug(jobCtx, "another worker holds the job lock; skipping")
		s.metrics.RecordRun(job.Name(), metrics.CronResultSkipped, 0)
		return
	}
	defer func() {
		if relErr := release(context.WithoutCancel(jobCtx)); relErr != nil {
			s.logg.Error(jobCtx, "failed to release cron lock", relErr)
		}
	}()

	s.logg.Debug(jobCtx, "job start")
	start := time.Now()
	err = job.Run(jobCtx)
	duration := time.Since(start)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.RecordRun(job.Name(), metrics.CronResultFailure, duration)
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.RecordRun(job.Name(), metrics.CronResultSuccess, duration)
}

// cronLogger adapts the service logger to the scheduler's logging interface.
type cronLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logg.Debug(c.withPairs(keysAndValues), "cron: "+msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logg.Error(c.withPairs(keysAndValues), "cron: "+msg, err)
}

func (c cronLogger) withPairs(keysAndValues []any) context.Context {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	if len(fields) == 0 {
		return c.ctx
	}
	return c.logg.WithFields(c.ctx, fields)
}
