package webhooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/angelmondragon/entitlement-engine/api/responses"
	stripewebhook "github.com/angelmondragon/entitlement-engine/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

const defaultMaxBodyBytes = 1 << 20

type stripeIngestor interface {
	Ingest(ctx context.Context, payload []byte, signatureHeader string) (*stripewebhook.Ack, error)
}

// StripeWebhook handles signed Stripe deliveries. Every accepted delivery is acked with 200,
// including duplicates and events the engine refused to apply; only malformed input and
// transient failures return an error status.
func StripeWebhook(ingestor stripeIngestor, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if ingestor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook ingestor unavailable"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "request body too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		ack, err := ingestor.Ingest(ctx, payload, sigHeader)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Debug(ctx, fmt.Sprintf("stripe event %s acked (%s)", ack.EventID, ack.Outcome))
		}
		responses.WriteSuccess(w, ack)
	}
}
