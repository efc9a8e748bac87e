// Package boot holds the start-up sequence shared by every binary.
package boot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/entitlement-engine/pkg/config"
	"github.com/angelmondragon/entitlement-engine/pkg/db"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
	"github.com/angelmondragon/entitlement-engine/pkg/migrate"
	"github.com/angelmondragon/entitlement-engine/pkg/redis"
)

// Options selects which shared resources a binary needs.
type Options struct {
	Kind  string
	Redis bool
}

// Runtime is the set of process-wide handles a binary starts from.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client

	closers []func() error
}

// Start loads configuration, opens the database (auto-migrating in dev) and optionally redis.
// On error every resource opened so far is closed.
func Start(ctx context.Context, opts Options) (rt *Runtime, err error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = opts.Kind

	rt = &Runtime{
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: opts.Kind,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Format:      cfg.App.LogFormat,
		}),
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, rt.Close())
			rt = nil
		}
	}()

	rt.DB, err = db.New(ctx, cfg.DB, rt.Logger)
	if err != nil {
		return rt, fmt.Errorf("database: %w", err)
	}
	rt.closers = append(rt.closers, rt.DB.Close)

	if err = migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB); err != nil {
		return rt, fmt.Errorf("dev migrations: %w", err)
	}

	if opts.Redis {
		rt.Redis, err = redis.New(ctx, cfg.Redis, rt.Logger)
		if err != nil {
			return rt, fmt.Errorf("redis: %w", err)
		}
		rt.closers = append(rt.closers, rt.Redis.Close)
	}
	return rt, nil
}

// Context returns a context canceled on SIGINT or SIGTERM, carrying env and service kind log fields.
func (rt *Runtime) Context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = rt.Logger.WithFields(ctx, map[string]any{
		"env":          rt.Config.App.Env,
		"service_kind": rt.Config.Service.Kind,
	})
	return ctx, stop
}

// Close releases resources in reverse opening order.
func (rt *Runtime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i]())
	}
	rt.closers = nil
	return err
}

// Exit logs a fatal start-up or run error and terminates the process.
func Exit(kind string, err error) {
	logger.New(logger.Options{ServiceName: kind}).Error(context.Background(), kind+" exited", err)
	os.Exit(1)
}
