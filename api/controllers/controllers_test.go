package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/entitlement-engine/api/middleware"
	"github.com/angelmondragon/entitlement-engine/internal/entitlements"
	"github.com/angelmondragon/entitlement-engine/pkg/config"
	"github.com/angelmondragon/entitlement-engine/pkg/enums"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type gateFunc func(context.Context, uuid.UUID) (entitlements.Result, error)

func (f gateFunc) Check(ctx context.Context, id uuid.UUID) (entitlements.Result, error) { return f(ctx, id) }

func TestHealthLiveSetsEnvHeader(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	rec := httptest.NewRecorder()
	HealthLive(cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK || rec.Header().Get(envHeader) != "test" {
		t.Fatalf("unexpected live response %d %q", rec.Code, rec.Header().Get(envHeader))
	}
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	healthy := map[string]Pinger{"db": pingFunc(func(context.Context) error { return nil }), "skipped": nil}
	rec := httptest.NewRecorder()
	HealthReady(cfg, nil, healthy).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	failing := map[string]Pinger{"redis": pingFunc(func(context.Context) error { return errors.New("down") })}
	rec = httptest.NewRecorder()
	HealthReady(cfg, nil, failing).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestEntitlementsMe(t *testing.T) {
	customerID := uuid.New()
	gate := gateFunc(func(_ context.Context, id uuid.UUID) (entitlements.Result, error) {
		result := entitlements.NoAccess(id)
		result.Access = enums.EntitlementAccessFull
		result.Status = enums.SubscriptionStatusTrialing
		result.Stale = true
		return result, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/entitlements/me", nil)
	req = req.WithContext(middleware.WithCustomerID(req.Context(), customerID.String()))
	rec := httptest.NewRecorder()
	EntitlementsMe(gate, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var body struct {
		Data entitlements.Result `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.CustomerID != customerID || !body.Data.Stale || body.Data.Status != enums.SubscriptionStatusTrialing {
		t.Fatalf("unexpected result %+v", body.Data)
	}
}

func TestEntitlementsMeErrors(t *testing.T) {
	gate := gateFunc(func(context.Context, uuid.UUID) (entitlements.Result, error) {
		return entitlements.Result{}, errors.New("db down")
	})

	rec := httptest.NewRecorder()
	EntitlementsMe(gate, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/entitlements/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/entitlements/me", nil)
	req = req.WithContext(middleware.WithCustomerID(req.Context(), uuid.NewString()))
	rec = httptest.NewRecorder()
	EntitlementsMe(gate, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}
