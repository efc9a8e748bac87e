package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	stripewebhook "github.com/angelmondragon/entitlement-engine/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
)

type fakeIngestor struct {
	calls  int
	header string
	ack    *stripewebhook.Ack
	err    error
}

func (f *fakeIngestor) Ingest(_ context.Context, _ []byte, header string) (*stripewebhook.Ack, error) {
	f.calls++
	f.header = header
	return f.ack, f.err
}

func postWebhook(handler http.Handler, body string, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(body)))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook_AcksAcceptedDeliveries(t *testing.T) {
	for _, outcome := range []string{"applied", "duplicate", "stale", "rejected", "ignored"} {
		t.Run(outcome, func(t *testing.T) {
			ingestor := &fakeIngestor{ack: &stripewebhook.Ack{EventID: "evt_1", Outcome: outcome}}
			rec := postWebhook(StripeWebhook(ingestor, 0, nil), `{}`, "t=1,v1=abc")

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
			}
			var body struct {
				Data stripewebhook.Ack `json:"data"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Data.Outcome != outcome || ingestor.header != "t=1,v1=abc" {
				t.Fatalf("unexpected ack %+v", body.Data)
			}
		})
	}
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	ingestor := &fakeIngestor{}
	rec := postWebhook(StripeWebhook(ingestor, 0, nil), `{}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ingestor.calls != 0 {
		t.Fatalf("ingestor should not be called without a signature")
	}
}

func TestStripeWebhook_BodyLimit(t *testing.T) {
	ingestor := &fakeIngestor{}
	rec := postWebhook(StripeWebhook(ingestor, 16, nil), strings.Repeat("x", 64), "t=1,v1=abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ingestor.calls != 0 {
		t.Fatalf("oversized bodies must not reach the ingestor")
	}
}

func TestStripeWebhook_ErrorStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"malformed", pkgerrors.New(pkgerrors.CodeValidation, "verify stripe signature"), http.StatusBadRequest},
		{"transient", pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "apply billing event"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postWebhook(StripeWebhook(&fakeIngestor{err: tc.err}, 0, nil), `{}`, "t=1,v1=abc")
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
