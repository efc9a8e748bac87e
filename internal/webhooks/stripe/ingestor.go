package stripewebhook

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/angelmondragon/entitlement-engine/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/entitlement-engine/pkg/errors"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

type verifier interface {
	Verify(payload []byte, header string) (stripe.Event, error)
	Tolerance() time.Duration
}

type submitter interface {
	Submit(ctx context.Context, sub subscriptions.Submission) (*subscriptions.Result, error)
}

// Ack is returned to the provider for every accepted delivery.
type Ack struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
	Status  string `json:"status,omitempty"`
}

type IngestorParams struct {
	Verifier verifier
	Applier  submitter
	Logger   *logger.Logger
}

// Ingestor authenticates Stripe deliveries and hands them to the applier.
type Ingestor struct {
	verifier verifier
	decoder  *Decoder
	applier  submitter
	logg     *logger.Logger
}

func NewIngestor(params IngestorParams) (*Ingestor, error) {
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe verifier required")
	}
	if params.Applier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "applier required")
	}
	return &Ingestor{
		verifier: params.Verifier,
		decoder:  NewDecoder(params.Verifier.Tolerance()),
		applier:  params.Applier,
		logg:     params.Logger,
	}, nil
}

// Decoder exposes the event decoder so ledger replay can rebuild stored submissions.
func (i *Ingestor) Decoder() *Decoder {
	return i.decoder
}

// Ingest verifies, decodes and applies one webhook delivery.
// Malformed input is a validation error and is never recorded.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte, signatureHeader string) (*Ack, error) {
	event, err := i.verifier.Verify(payload, signatureHeader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify stripe signature")
	}
	if i.logg != nil {
		ctx = i.logg.WithFields(ctx, map[string]any{
			"event_id":   event.ID,
			"event_type": string(event.Type),
		})
	}

	sub, err := i.decoder.Decode(event, payload)
	if err != nil {
		if i.logg != nil {
			i.logg.Warn(ctx, fmt.Sprintf("stripe event refused: %v", err))
		}
		return nil, err
	}

	result, err := i.applier.Submit(ctx, sub)
	if err != nil {
		return nil, err
	}
	return &Ack{
		EventID: result.EventID,
		Outcome: string(result.Outcome),
		Status:  string(result.Status),
	}, nil
}
