package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/angelmondragon/entitlement-engine/pkg/config"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	defaultTolerance = 5 * time.Minute
)

var (
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)

	// ErrSignature is returned when a payload fails signature or timestamp verification.
	ErrSignature = errors.New("stripe signature verification failed")
)

// Verifier authenticates webhook deliveries against the configured signing secret.
type Verifier struct {
	environment   string
	signingSecret string
	tolerance     time.Duration
}

// NewVerifier validates the Stripe configuration once at startup.
func NewVerifier(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Verifier, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}
	if !strings.HasPrefix(signingSecret, "whsec_") {
		return nil, fmt.Errorf("stripe webhook secret must start with whsec_")
	}

	tolerance := cfg.SkewTolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe webhook verifier initialized (%s)", env))
	}

	return &Verifier{
		environment:   env,
		signingSecret: signingSecret,
		tolerance:     tolerance,
	}, nil
}

// Verify checks the Stripe-Signature header and decodes the event envelope.
// Signatures older than the skew tolerance are refused.
func (v *Verifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if v == nil {
		return stripe.Event{}, errSecretRequired
	}
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, fmt.Errorf("%w: signature header missing", ErrSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, v.signingSecret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return event, nil
}

// Tolerance reports the accepted clock skew for signatures and event timestamps.
func (v *Verifier) Tolerance() time.Duration {
	if v == nil {
		return defaultTolerance
	}
	return v.tolerance
}

// Environment reports the normalized Stripe environment in use.
func (v *Verifier) Environment() string {
	if v == nil {
		return ""
	}
	return v.environment
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}
