package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/entitlement-engine/api/controllers"
	"github.com/angelmondragon/entitlement-engine/api/routes"
	"github.com/angelmondragon/entitlement-engine/internal/boot"
	"github.com/angelmondragon/entitlement-engine/internal/engine"
	stripewebhook "github.com/angelmondragon/entitlement-engine/internal/webhooks/stripe"
	pkgstripe "github.com/angelmondragon/entitlement-engine/pkg/stripe"
)

const (
	serviceKind     = "api"
	shutdownTimeout = 15 * time.Second
)

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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := engine.New(engine.Params{
		Config:     cfg,
		DB:         rt.DB,
		Redis:      rt.Redis,
		Registerer: registry,
		Logger:     logg,
	})
	if err != nil {
		return err
	}
	verifier, err := pkgstripe.NewVerifier(context.Background(), cfg.Stripe, logg)
	if err != nil {
		return err
	}
	ingestor, err := stripewebhook.NewIngestor(stripewebhook.IngestorParams{
		Verifier: verifier,
		Applier:  eng.Applier,
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	addr := ":" + cfg.App.Port
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			Ingestor:  ingestor,
			Gate:      eng.Gate,
			Customers: eng.Customers,
			Status:    eng.Status,
			Ready: map[string]controllers.Pinger{
				"database": rt.DB,
				"redis":    rt.Redis,
			},
			Gatherer: registry,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := rt.Context()
	defer stop()
	ctx = logg.WithField(ctx, "addr", addr)

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "api listening")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logg.Info(shutdownCtx, "api shut down gracefully")
	return nil
}
